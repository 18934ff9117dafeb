// Package worker runs queued tasks: a fixed pool pulls from the shared
// backlog, gated by memory admission, with retries and time limits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/infra/metrics"
	"meeting-ai-pipeline/internal/infra/resilience"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Handler executes one task type and returns the serialized result.
type Handler interface {
	Handle(ctx context.Context, task *model.Task) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, task *model.Task) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, task *model.Task) ([]byte, error) {
	return f(ctx, task)
}

// FailureHook is implemented by handlers that release resources once a task
// has failed for good.
type FailureHook interface {
	OnFailure(ctx context.Context, task *model.Task, err error)
}

// Admission is asked before every execution. An error defers the task.
type Admission interface {
	Admit() error
}

// Progress is the slice of the progress store the scheduler drives.
type Progress interface {
	Get(id string) (model.JobView, bool)
	Update(id string, upd model.JobUpdate) (model.JobView, error)
	Bind(id string, cancel context.CancelFunc) (unbind func())
}

// QueueTracker is told when a user's task leaves the system. Released is
// for tasks that end without an outcome, such as cancelled jobs.
type QueueTracker interface {
	Finished(user string, success bool)
	Released(user string)
}

type Scheduler struct {
	backlog   repository.Backlog
	results   repository.ResultStore
	locker    repository.Locker
	admission Admission
	progress  Progress
	tracker   QueueTracker
	policy    resilience.Policy
	cfg       config.WorkerConfig
	pool      *Pool
	log       *zerolog.Logger

	mu       sync.RWMutex
	handlers map[model.TaskType]Handler
	now      func() time.Time
}

func NewScheduler(
	backlog repository.Backlog,
	results repository.ResultStore,
	locker repository.Locker,
	admission Admission,
	progress Progress,
	cfg config.WorkerConfig,
	logger *zerolog.Logger,
) *Scheduler {
	l := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{
		backlog:   backlog,
		results:   results,
		locker:    locker,
		admission: admission,
		progress:  progress,
		policy:    resilience.TaskPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		cfg:       cfg,
		pool:      NewPool(cfg.Workers, logger),
		log:       &l,
		handlers:  make(map[model.TaskType]Handler),
		now:       time.Now,
	}
}

// WithTracker attaches the rate limiter's queue bookkeeping.
func (s *Scheduler) WithTracker(t QueueTracker) *Scheduler {
	s.tracker = t
	return s
}

func (s *Scheduler) Register(t model.TaskType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

func (s *Scheduler) handler(t model.TaskType) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[t]
	return h, ok
}

// Enqueue assigns the task id, records it as pending and pushes it.
func (s *Scheduler) Enqueue(ctx context.Context, task *model.Task) (string, error) {
	if task == nil || task.JobID == "" {
		return "", domain.ErrInvalidArgument
	}
	if !task.Type.Valid() {
		return "", fmt.Errorf("%s: %w", task.Type, domain.ErrUnknownTaskType)
	}
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	if err := s.setState(ctx, task, model.TaskStatusPending, ""); err != nil {
		return "", err
	}
	if err := s.backlog.Push(ctx, task); err != nil {
		return "", fmt.Errorf("push task: %w", err)
	}
	s.reportBacklog(ctx)
	s.log.Info().Str("task_id", task.ID).Str("job_id", task.JobID).Str("type", string(task.Type)).Int("priority", task.Priority).Msg("task enqueued")
	return task.ID, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.pool.Start(ctx, func(ctx context.Context, id int) {
		for ctx.Err() == nil {
			s.processOne(ctx, id)
		}
	})
}

func (s *Scheduler) Stop() { s.pool.Stop() }

// processOne claims at most one task and drives it to its next state.
func (s *Scheduler) processOne(ctx context.Context, workerID int) {
	task, err := s.backlog.Pop(ctx, s.cfg.PollTimeout)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("failed to pop task")
			s.sleep(ctx, s.cfg.PollTimeout)
		}
		return
	}
	s.reportBacklog(ctx)

	tctx := logging.WithTaskID(logging.WithJobID(ctx, task.JobID), task.ID)
	log := logging.With(tctx, s.log).With().Int("worker", workerID).Str("type", string(task.Type)).Logger()

	view, ok := s.progress.Get(task.JobID)
	if !ok || view.IsComplete {
		reason := "job unknown or expired"
		if ok {
			reason = fmt.Sprintf("job %s", view.Phase)
		}
		log.Info().Str("reason", reason).Msg("dropping task")
		s.finish(ctx, task, model.TaskStatusFailed, reason)
		s.release(task)
		return
	}

	if s.admission != nil {
		if err := s.admission.Admit(); err != nil {
			metrics.IncAdmissionDeferral()
			log.Warn().Err(err).Dur("backoff", s.cfg.AdmissionBackoff).Msg("admission refused, deferring task")
			s.requeue(ctx, task, s.now().Add(s.cfg.AdmissionBackoff))
			return
		}
	}

	lockKey := "job_lock:" + task.JobID
	token, err := s.locker.TryLock(ctx, lockKey, s.cfg.HardTimeLimit+time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("job is locked by another execution, deferring task")
		s.requeue(ctx, task, s.now().Add(s.cfg.AdmissionBackoff))
		return
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn().Err(err).Msg("failed to release job lock")
		}
	}()

	_ = s.setState(ctx, task, model.TaskStatusProcessing, task.LastError)
	started := s.now()
	result, err := s.execute(tctx, task, &log)
	elapsed := s.now().Sub(started)
	metrics.ObserveTaskDuration(string(task.Type), elapsed)

	switch {
	case err == nil:
		s.complete(ctx, task, result, &log)
		log.Info().Dur("took", elapsed).Msg("task completed")

	case ctx.Err() != nil && !errors.Is(err, domain.ErrHardTimeLimit):
		// Shutting down: hand the task back untouched.
		log.Warn().Err(err).Msg("worker stopping, returning task to backlog")
		s.requeue(ctx, task, s.now())

	case errors.Is(err, domain.ErrJobCanceled):
		log.Info().Msg("task stopped after job cancellation")
		s.finish(ctx, task, model.TaskStatusFailed, domain.ErrJobCanceled.Error())
		metrics.IncTask(string(task.Type), "canceled")
		s.cleanup(ctx, task, err)
		s.release(task)

	case s.policy.ShouldRetry(err, task.Retries):
		delay := s.policy.Delay(task.Retries)
		task.Retries++
		task.LastError = err.Error()
		metrics.IncTaskRetry(string(task.Type))
		log.Warn().Err(err).Int("attempt", task.Retries).Int("max", s.policy.MaxRetries).Dur("delay", delay).Msg("task failed, scheduling retry")
		s.requeue(ctx, task, s.now().Add(delay))
		s.updateJob(task.JobID, model.JobUpdate{Message: model.Str(fmt.Sprintf("%s (retry %d/%d)", domain.UserMessage(err), task.Retries, s.policy.MaxRetries))})

	default:
		log.Error().Err(err).Int("retries", task.Retries).Msg("task failed permanently")
		s.fail(ctx, task, err)
	}
}

// execute runs the handler under the soft limit and abandons it at the hard limit.
func (s *Scheduler) execute(ctx context.Context, task *model.Task, log *zerolog.Logger) ([]byte, error) {
	h, ok := s.handler(task.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %w", task.Type, domain.ErrNoHandler)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unbind := s.progress.Bind(task.JobID, cancel)
	defer unbind()
	softCtx, softCancel := context.WithTimeout(runCtx, s.cfg.SoftTimeLimit)
	defer softCancel()

	type outcome struct {
		res []byte
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := h.Handle(softCtx, task)
		out <- outcome{res: res, err: err}
	}()

	hard := time.NewTimer(s.cfg.HardTimeLimit)
	defer hard.Stop()
	select {
	case o := <-out:
		if o.err != nil && errors.Is(softCtx.Err(), context.DeadlineExceeded) && !errors.Is(o.err, domain.ErrTimeout) {
			o.err = fmt.Errorf("%w: soft time limit %s: %w", domain.ErrTimeout, s.cfg.SoftTimeLimit, o.err)
		}
		return o.res, o.err
	case <-hard.C:
		cancel()
		log.Error().Dur("limit", s.cfg.HardTimeLimit).Msg("hard time limit reached, abandoning task")
		return nil, fmt.Errorf("after %s: %w", s.cfg.HardTimeLimit, domain.ErrHardTimeLimit)
	}
}

func (s *Scheduler) complete(ctx context.Context, task *model.Task, result []byte, log *zerolog.Logger) {
	if result != nil {
		if err := s.results.SetResult(ctx, task.ID, result, s.cfg.ResultTTL); err != nil {
			log.Error().Err(err).Msg("failed to store task result")
		}
	}
	s.finish(ctx, task, model.TaskStatusCompleted, "")
	metrics.IncTask(string(task.Type), string(model.TaskStatusCompleted))
	s.done(task, true)
}

func (s *Scheduler) fail(ctx context.Context, task *model.Task, err error) {
	task.LastError = err.Error()
	s.finish(ctx, task, model.TaskStatusFailed, err.Error())
	metrics.IncTask(string(task.Type), string(model.TaskStatusFailed))
	s.updateJob(task.JobID, model.JobUpdate{
		Phase:   model.PhasePtr(model.PhaseError),
		Message: model.Str(domain.UserMessage(err)),
	})
	s.cleanup(ctx, task, err)
	s.done(task, false)
}

func (s *Scheduler) cleanup(ctx context.Context, task *model.Task, err error) {
	if h, ok := s.handler(task.Type); ok {
		if hook, ok := h.(FailureHook); ok {
			hook.OnFailure(context.WithoutCancel(ctx), task, err)
		}
	}
}

func (s *Scheduler) requeue(ctx context.Context, task *model.Task, at time.Time) {
	// Shutdown must not lose the task.
	pctx := context.WithoutCancel(ctx)
	if err := s.backlog.PushDelayed(pctx, task, at); err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to re-queue task")
		s.fail(pctx, task, err)
		return
	}
	_ = s.setState(pctx, task, model.TaskStatusPending, task.LastError)
	s.reportBacklog(pctx)
}

func (s *Scheduler) finish(ctx context.Context, task *model.Task, status model.TaskStatus, msg string) {
	_ = s.setState(context.WithoutCancel(ctx), task, status, msg)
}

func (s *Scheduler) setState(ctx context.Context, task *model.Task, status model.TaskStatus, msg string) error {
	err := s.results.SetState(ctx, &model.TaskState{
		TaskID:    task.ID,
		JobID:     task.JobID,
		Type:      task.Type,
		Status:    status,
		Retries:   task.Retries,
		Error:     msg,
		UpdatedAt: s.now(),
	}, s.cfg.ResultTTL)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Str("status", string(status)).Msg("failed to write task state")
	}
	return err
}

func (s *Scheduler) updateJob(jobID string, upd model.JobUpdate) {
	if _, err := s.progress.Update(jobID, upd); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to update job progress")
	}
}

func (s *Scheduler) done(task *model.Task, success bool) {
	if s.tracker != nil {
		s.tracker.Finished(task.UserID, success)
	}
}

func (s *Scheduler) release(task *model.Task) {
	if s.tracker != nil {
		s.tracker.Released(task.UserID)
	}
}

func (s *Scheduler) reportBacklog(ctx context.Context) {
	if n, err := s.backlog.Len(context.WithoutCancel(ctx)); err == nil {
		metrics.SetBacklogPending(int64(n))
	}
}

// Status returns the recorded state of a task.
func (s *Scheduler) Status(ctx context.Context, taskID string) (*model.TaskState, error) {
	return s.results.GetState(ctx, taskID)
}

// Result returns the stored result of a completed task.
func (s *Scheduler) Result(ctx context.Context, taskID string) ([]byte, error) {
	return s.results.GetResult(ctx, taskID)
}

// Pending is the number of tasks ready to run.
func (s *Scheduler) Pending(ctx context.Context) (int, error) {
	return s.backlog.Len(ctx)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
