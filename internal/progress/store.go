// Package progress keeps the in-memory registry of job progress.
package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 8

type entry struct {
	job    model.Job
	eta    etaEstimator
	cancel context.CancelFunc
}

// Store is a thread-safe job registry with lazy TTL eviction. Every read path
// sweeps expired entries first.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*entry
	subs map[string]map[chan model.JobView]struct{}
	ttl  time.Duration
	now  func() time.Time
	log  *zerolog.Logger
}

func NewStore(ttl time.Duration, logger *zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	l := logger.With().Str("component", "ProgressStore").Logger()
	return &Store{
		jobs: make(map[string]*entry),
		subs: make(map[string]map[chan model.JobView]struct{}),
		ttl:  ttl,
		now:  time.Now,
		log:  &l,
	}
}

// Create registers a new job in the queued phase. Duplicate ids are rejected.
func (s *Store) Create(id, userID string) (model.JobView, error) {
	if id == "" {
		return model.JobView{}, domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return model.JobView{}, fmt.Errorf("job %s: %w", id, domain.ErrAlreadyExists)
	}
	e := &entry{job: model.Job{
		ID:        id,
		UserID:    userID,
		Phase:     model.PhaseQueued,
		UpdatedAt: s.now(),
	}}
	s.jobs[id] = e
	metrics.IncJobPhase(string(model.PhaseQueued))
	s.log.Info().Str("job_id", id).Msg("job created")
	return e.job.View(), nil
}

// Update merges the non-nil fields of upd. Progress never moves backwards.
func (s *Store) Update(id string, upd model.JobUpdate) (model.JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return model.JobView{}, domain.ErrNotFound
	}
	j := &e.job
	if j.Phase.IsTerminal() {
		return j.View(), domain.ErrJobTerminal
	}
	now := s.now()

	if upd.Phase != nil && *upd.Phase != j.Phase {
		if !model.CanTransition(j.Phase, *upd.Phase) {
			return j.View(), fmt.Errorf("%s -> %s: %w", j.Phase, *upd.Phase, domain.ErrInvalidTransition)
		}
		s.log.Debug().Str("job_id", id).Str("from", string(j.Phase)).Str("to", string(*upd.Phase)).Msg("phase transition")
		j.Phase = *upd.Phase
		metrics.IncJobPhase(string(j.Phase))
		if j.Phase.IsRunning() && j.StartedAt == nil {
			started := now
			j.StartedAt = &started
		}
	}
	if upd.Progress != nil {
		p := clamp(*upd.Progress, 0, 100)
		if p > j.Progress {
			j.Progress = p
		}
	}
	if upd.Message != nil {
		j.Message = *upd.Message
	}
	if upd.Current != nil {
		j.Current = *upd.Current
	}
	if upd.Total != nil {
		j.Total = *upd.Total
	}
	j.UpdatedAt = now

	switch {
	case j.Phase.IsTerminal():
		j.ETASeconds = nil
	case upd.TouchesProgress():
		j.ETASeconds = e.eta.observe(j.Current, j.Total, j.StartedAt, now)
	}

	v := j.View()
	s.notifyLocked(id, v)
	if j.Phase.IsTerminal() {
		s.finishLocked(id, e)
	}
	return v, nil
}

// Cancel moves a non-terminal job to canceled. It returns false both for
// unknown ids and for jobs that already finished.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.Phase.IsTerminal() {
		return false
	}
	e.job.Phase = model.PhaseCanceled
	e.job.ETASeconds = nil
	e.job.UpdatedAt = s.now()
	metrics.IncJobPhase(string(model.PhaseCanceled))
	s.log.Info().Str("job_id", id).Msg("job canceled")

	s.notifyLocked(id, e.job.View())
	s.finishLocked(id, e)
	return true
}

// Bind attaches the cancel func of the execution currently owning the job,
// so that Cancel interrupts blocking calls. The returned func detaches it.
func (s *Store) Bind(id string, cancel context.CancelFunc) (unbind func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return func() {}
	}
	if e.job.Phase.IsTerminal() {
		cancel()
		return func() {}
	}
	e.cancel = cancel
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.jobs[id]; ok && cur == e {
			e.cancel = nil
		}
	}
}

func (s *Store) Get(id string) (model.JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	e, ok := s.jobs[id]
	if !ok {
		return model.JobView{}, false
	}
	return e.job.View(), true
}

// Owner returns the user that submitted the job.
func (s *Store) Owner(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return e.job.UserID, true
}

// List returns jobs, optionally filtered by phase, most recently updated first.
func (s *Store) List(phase *model.Phase) []model.JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := make([]model.JobView, 0, len(s.jobs))
	for _, e := range s.jobs {
		if phase != nil && e.job.Phase != *phase {
			continue
		}
		out = append(out, e.job.View())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].UpdatedAt.After(out[k].UpdatedAt)
	})
	return out
}

type Stats struct {
	TotalJobs   int                 `json:"total_jobs"`
	PhaseCounts map[model.Phase]int `json:"phase_counts"`
	TTLHours    float64             `json:"ttl_hours"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	st := Stats{
		TotalJobs:   len(s.jobs),
		PhaseCounts: make(map[model.Phase]int),
		TTLHours:    s.ttl.Hours(),
	}
	for _, e := range s.jobs {
		st.PhaseCounts[e.job.Phase]++
	}
	return st
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

// Sweep evicts entries not updated within the TTL and returns how many went.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Subscribe returns a channel receiving the job view after every change.
// The channel is closed once the job reaches a terminal phase or disappears.
func (s *Store) Subscribe(id string) (<-chan model.JobView, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan model.JobView, subscriberBuffer)
	e, ok := s.jobs[id]
	if !ok || e.job.Phase.IsTerminal() {
		close(ch)
		return ch, func() {}
	}
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan model.JobView]struct{})
	}
	s.subs[id][ch] = struct{}{}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subs[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.subs, id)
			}
		}
	}
}

func (s *Store) sweepLocked() int {
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, e := range s.jobs {
		if e.job.UpdatedAt.Before(cutoff) {
			s.removeLocked(id)
			n++
		}
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("expired jobs cleaned up")
	}
	return n
}

func (s *Store) removeLocked(id string) {
	if e, ok := s.jobs[id]; ok && e.cancel != nil {
		e.cancel()
	}
	delete(s.jobs, id)
	s.closeSubsLocked(id)
}

// notifyLocked delivers the latest view, dropping the oldest buffered one for slow readers.
func (s *Store) notifyLocked(id string, v model.JobView) {
	for ch := range s.subs[id] {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (s *Store) finishLocked(id string, e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	s.closeSubsLocked(id)
}

func (s *Store) closeSubsLocked(id string) {
	for ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
