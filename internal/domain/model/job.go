package model

import "time"

// Phase is the lifecycle stage of a job.
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhaseTranscribing Phase = "transcribing"
	PhaseSummarizing  Phase = "summarizing"
	PhaseFinalizing   Phase = "finalizing"
	PhaseDone         Phase = "done"
	PhaseError        Phase = "error"
	PhaseCanceled     Phase = "canceled"
)

var AllPhases = []Phase{
	PhaseQueued, PhaseTranscribing, PhaseSummarizing, PhaseFinalizing,
	PhaseDone, PhaseError, PhaseCanceled,
}

// transitions lists every allowed move. Staying in the same non-terminal
// phase is always allowed and not listed here.
var transitions = map[Phase][]Phase{
	PhaseQueued:       {PhaseTranscribing, PhaseSummarizing, PhaseError, PhaseCanceled},
	PhaseTranscribing: {PhaseSummarizing, PhaseFinalizing, PhaseError, PhaseCanceled},
	PhaseSummarizing:  {PhaseFinalizing, PhaseError, PhaseCanceled},
	PhaseFinalizing:   {PhaseDone, PhaseError, PhaseCanceled},
	PhaseDone:         nil,
	PhaseError:        nil,
	PhaseCanceled:     nil,
}

func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseError || p == PhaseCanceled
}

func (p Phase) IsRunning() bool {
	return p == PhaseTranscribing || p == PhaseSummarizing || p == PhaseFinalizing
}

// CanTransition is the single guard for phase changes.
func CanTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the progress record of one unit of work.
type Job struct {
	ID         string
	UserID     string
	Phase      Phase
	Progress   float64 // 0-100
	Message    string
	ETASeconds *float64
	Current    int64
	Total      int64
	StartedAt  *time.Time
	UpdatedAt  time.Time
}

// JobView is the status projection returned to clients.
type JobView struct {
	ID         string     `json:"id"`
	Phase      Phase      `json:"phase"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message"`
	ETASeconds *float64   `json:"eta_seconds"`
	Current    int64      `json:"current"`
	Total      int64      `json:"total"`
	StartedAt  *time.Time `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	IsComplete bool       `json:"is_complete"`
	IsRunning  bool       `json:"is_running"`
}

func (j *Job) View() JobView {
	v := JobView{
		ID:         j.ID,
		Phase:      j.Phase,
		Progress:   roundTo2(j.Progress),
		Message:    j.Message,
		Current:    j.Current,
		Total:      j.Total,
		UpdatedAt:  j.UpdatedAt,
		IsComplete: j.Phase.IsTerminal(),
		IsRunning:  j.Phase.IsRunning(),
	}
	if j.ETASeconds != nil {
		eta := *j.ETASeconds
		v.ETASeconds = &eta
	}
	if j.StartedAt != nil {
		s := *j.StartedAt
		v.StartedAt = &s
	}
	return v
}

func roundTo2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

// JobUpdate carries the fields a stage wants to change; nil means untouched.
type JobUpdate struct {
	Phase    *Phase
	Progress *float64
	Message  *string
	Current  *int64
	Total    *int64
}

func (u JobUpdate) TouchesProgress() bool {
	return u.Progress != nil || u.Current != nil || u.Total != nil
}

// Helpers for building updates inline.
func PhasePtr(p Phase) *Phase  { return &p }
func Float(f float64) *float64 { return &f }
func Str(s string) *string     { return &s }
func Int64(n int64) *int64     { return &n }
