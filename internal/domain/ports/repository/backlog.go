package repository

import (
	"context"
	"time"

	"meeting-ai-pipeline/internal/domain/model"
)

// Backlog is the shared priority queue the worker fleet pulls from.
type Backlog interface {
	// Push enqueues a task; higher priority first, FIFO within a priority.
	Push(ctx context.Context, task *model.Task) error
	// PushDelayed makes the task visible again at the given time.
	PushDelayed(ctx context.Context, task *model.Task, at time.Time) error
	// Pop waits up to timeout for a task and returns domain.ErrNotFound when none arrived.
	Pop(ctx context.Context, timeout time.Duration) (*model.Task, error)
	// Len is the number of pending (not delayed) tasks.
	Len(ctx context.Context) (int, error)
}

// ResultStore keeps short-lived task state and results keyed by task id.
type ResultStore interface {
	SetState(ctx context.Context, state *model.TaskState, ttl time.Duration) error
	GetState(ctx context.Context, taskID string) (*model.TaskState, error)
	SetResult(ctx context.Context, taskID string, result []byte, ttl time.Duration) error
	GetResult(ctx context.Context, taskID string) ([]byte, error)
}

// Locker guards a job against concurrent execution.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
