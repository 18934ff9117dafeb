package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/governor"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/progress"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

type JobUseCase interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	SubmitText(ctx context.Context, req TextRequest) (*SubmitResponse, error)
	Status(ctx context.Context, jobID string) (model.JobView, error)
	List(ctx context.Context, phase *model.Phase) []model.JobView
	Cancel(ctx context.Context, jobID string) bool
	Result(ctx context.Context, jobID string) (*model.JobResult, error)
	Watch(ctx context.Context, jobID string) (<-chan model.JobView, func(), error)
	Task(ctx context.Context, taskID string) (*model.TaskState, error)
	Stats(ctx context.Context) (*Stats, error)
	Recommend(ctx context.Context, userID, lastErr string) governor.Recommendation
	Owns(jobID, userID string) bool
}

// ProgressStore is the part of the progress registry the use case needs.
type ProgressStore interface {
	Create(id, userID string) (model.JobView, error)
	Get(id string) (model.JobView, bool)
	Owner(id string) (string, bool)
	Cancel(id string) bool
	Delete(id string) bool
	List(phase *model.Phase) []model.JobView
	Stats() progress.Stats
	Subscribe(id string) (<-chan model.JobView, func())
}

type MemoryGuard interface {
	ValidateFileSize(sizeBytes int64) error
	Snapshot() governor.MemoryStats
}

type SubmissionLimiter interface {
	Reserve(user string) (governor.Decision, governor.QueueInfo)
	Finished(user string, success bool)
	Released(user string)
	Recommend(user, lastErr string) governor.Recommendation
	LoadFactor() float64
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task *model.Task) (string, error)
	Status(ctx context.Context, taskID string) (*model.TaskState, error)
	Result(ctx context.Context, taskID string) ([]byte, error)
	Pending(ctx context.Context) (int, error)
}

type SubmitRequest struct {
	UserID    string
	AudioPath string
	FileName  string
	SizeBytes int64
	Language  string
	// TranscribeOnly skips the summary.
	TranscribeOnly bool
	Priority       int
}

type TextRequest struct {
	UserID     string
	Transcript string
	Language   string
	Priority   int
}

type SubmitResponse struct {
	JobID  string             `json:"job_id"`
	TaskID string             `json:"task_id"`
	Status string             `json:"status"`
	Queue  governor.QueueInfo `json:"queue_info"`
}

type Stats struct {
	Jobs       progress.Stats       `json:"jobs"`
	Memory     governor.MemoryStats `json:"memory"`
	Backlog    int                  `json:"backlog_pending"`
	LoadFactor float64              `json:"load_factor"`
}

// RateLimitError carries the limiter's decision back to the transport.
type RateLimitError struct {
	Decision governor.Decision
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Decision.Message }
func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

type jobUC struct {
	store     ProgressStore
	guard     MemoryGuard
	limiter   SubmissionLimiter
	queue     TaskQueue
	meetings  repository.MeetingRepository
	languages []string

	mu    sync.RWMutex
	tasks map[string]string // job id -> task id

	log *zerolog.Logger
}

func NewJobUseCase(
	store ProgressStore,
	guard MemoryGuard,
	limiter SubmissionLimiter,
	queue TaskQueue,
	meetings repository.MeetingRepository,
	languages []string,
	logger *zerolog.Logger,
) *jobUC {
	l := logger.With().Str("component", "JobUseCase").Logger()
	return &jobUC{
		store:     store,
		guard:     guard,
		limiter:   limiter,
		queue:     queue,
		meetings:  meetings,
		languages: languages,
		tasks:     make(map[string]string),
		log:       &l,
	}
}

// Submit validates and admits an uploaded recording, then queues it. Every
// rejection happens before a job exists.
func (u *jobUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	log := logging.With(ctx, u.log)
	if req.AudioPath == "" {
		return nil, fmt.Errorf("%w: audio file is required", domain.ErrInvalidArgument)
	}
	lang, err := u.language(req.Language)
	if err != nil {
		return nil, err
	}
	if err := u.guard.ValidateFileSize(req.SizeBytes); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(model.MediaPayload{
		AudioPath: req.AudioPath,
		Language:  lang,
		FileName:  req.FileName,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		return nil, err
	}
	typ := model.TaskTranscribeAndSummarize
	if req.TranscribeOnly {
		typ = model.TaskTranscription
	}
	resp, err := u.admit(ctx, req.UserID, typ, req.Priority, payload)
	if err != nil {
		return nil, err
	}
	log.Info().Str("job_id", resp.JobID).Str("file", req.FileName).Int64("size", req.SizeBytes).Str("language", lang).Msg("job submitted")
	return resp, nil
}

// SubmitText queues a summary of an existing transcript.
func (u *jobUC) SubmitText(ctx context.Context, req TextRequest) (*SubmitResponse, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("%w: transcript is required", domain.ErrInvalidArgument)
	}
	lang, err := u.language(req.Language)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(model.TextPayload{Transcript: req.Transcript, Language: lang})
	if err != nil {
		return nil, err
	}
	return u.admit(ctx, req.UserID, model.TaskSummarization, req.Priority, payload)
}

func (u *jobUC) admit(ctx context.Context, userID string, typ model.TaskType, priority int, payload []byte) (*SubmitResponse, error) {
	// Reserved before the push so a fast worker cannot finish it first.
	d, queue := u.limiter.Reserve(userID)
	if !d.Allowed {
		return nil, &RateLimitError{Decision: d}
	}
	if priority == 0 {
		priority = model.PriorityNormal
	}

	jobID := uuid.NewString()
	if _, err := u.store.Create(jobID, userID); err != nil {
		u.limiter.Released(userID)
		return nil, err
	}
	taskID, err := u.queue.Enqueue(ctx, &model.Task{
		JobID:    jobID,
		Type:     typ,
		UserID:   userID,
		Priority: priority,
		Payload:  payload,
	})
	if err != nil {
		u.store.Delete(jobID)
		u.limiter.Finished(userID, false)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	u.mu.Lock()
	u.tasks[jobID] = taskID
	u.mu.Unlock()

	return &SubmitResponse{
		JobID:  jobID,
		TaskID: taskID,
		Status: "submitted",
		Queue:  queue,
	}, nil
}

func (u *jobUC) language(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = "auto"
	}
	if !slices.Contains(u.languages, lang) {
		return "", fmt.Errorf("%w: %q (allowed: %s)", domain.ErrUnsupportedLang, lang, strings.Join(u.languages, ", "))
	}
	return lang, nil
}

func (u *jobUC) Status(_ context.Context, jobID string) (model.JobView, error) {
	v, ok := u.store.Get(jobID)
	if !ok {
		return model.JobView{}, domain.ErrNotFound
	}
	return v, nil
}

func (u *jobUC) List(_ context.Context, phase *model.Phase) []model.JobView {
	return u.store.List(phase)
}

// Cancel reports false both for unknown and for finished jobs.
func (u *jobUC) Cancel(ctx context.Context, jobID string) bool {
	ok := u.store.Cancel(jobID)
	if ok {
		logging.With(ctx, u.log).Info().Str("job_id", jobID).Msg("job cancel requested")
	}
	return ok
}

// Result returns the finished artifact, from the result store while it is
// fresh and from persistence afterwards.
func (u *jobUC) Result(ctx context.Context, jobID string) (*model.JobResult, error) {
	u.mu.RLock()
	taskID, ok := u.tasks[jobID]
	u.mu.RUnlock()

	if ok {
		body, err := u.queue.Result(ctx, taskID)
		switch {
		case err == nil:
			var res model.JobResult
			if err := json.Unmarshal(body, &res); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
			return &res, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	if u.meetings == nil {
		return nil, domain.ErrNotFound
	}
	return u.meetings.FindResult(ctx, repository.NoTX, jobID)
}

// Watch streams job views until the job finishes or disappears.
func (u *jobUC) Watch(_ context.Context, jobID string) (<-chan model.JobView, func(), error) {
	if _, ok := u.store.Get(jobID); !ok {
		return nil, nil, domain.ErrNotFound
	}
	ch, stop := u.store.Subscribe(jobID)
	return ch, stop, nil
}

func (u *jobUC) Task(ctx context.Context, taskID string) (*model.TaskState, error) {
	return u.queue.Status(ctx, taskID)
}

func (u *jobUC) Stats(ctx context.Context) (*Stats, error) {
	pending, err := u.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Jobs:       u.store.Stats(),
		Memory:     u.guard.Snapshot(),
		Backlog:    pending,
		LoadFactor: u.limiter.LoadFactor(),
	}, nil
}

func (u *jobUC) Recommend(_ context.Context, userID, lastErr string) governor.Recommendation {
	return u.limiter.Recommend(userID, lastErr)
}

// Owns reports whether userID submitted jobID.
func (u *jobUC) Owns(jobID, userID string) bool {
	owner, ok := u.store.Owner(jobID)
	return ok && owner == userID
}

// Prune forgets task ids of jobs the progress store has evicted.
func (u *jobUC) Prune() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for jobID := range u.tasks {
		if _, ok := u.store.Get(jobID); !ok {
			delete(u.tasks, jobID)
			n++
		}
	}
	return n
}
