package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
)

var _ repository.Backlog = (*Backlog)(nil)

const (
	pendingKey = "ai_tasks:pending"
	delayedKey = "ai_tasks:delayed"
	seqKey     = "ai_tasks:seq"

	// priorityBand leaves room for one sequence number per enqueue inside a
	// priority level while scores stay exact in float64.
	priorityBand = 1e12
	promoteBatch = 100
)

// Backlog is the shared priority queue: a sorted set popped with BZPOPMAX.
// The score packs priority and insertion order so that ties pop FIFO.
type Backlog struct {
	cli RedisClient
	now func() time.Time
}

func NewBacklog(cli RedisClient) *Backlog {
	return &Backlog{cli: cli, now: time.Now}
}

func (b *Backlog) Push(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	seq, err := b.cli.Incr(ctx, seqKey)
	if err != nil {
		return err
	}
	return b.cli.ZAdd(ctx, pendingKey, score(task.Priority, seq), string(data))
}

func (b *Backlog) PushDelayed(ctx context.Context, task *model.Task, at time.Time) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.cli.ZAdd(ctx, delayedKey, float64(at.UnixMilli()), string(data))
}

// Pop moves due delayed tasks to the pending set, then waits for the best one.
func (b *Backlog) Pop(ctx context.Context, timeout time.Duration) (*model.Task, error) {
	if err := b.promoteDue(ctx); err != nil {
		return nil, err
	}
	member, err := b.cli.BZPopMax(ctx, timeout, pendingKey)
	if err != nil {
		return nil, err
	}
	var t model.Task
	if err := json.Unmarshal([]byte(member), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *Backlog) Len(ctx context.Context) (int, error) {
	n, err := b.cli.ZCard(ctx, pendingKey)
	return int(n), err
}

// Delayed is the number of tasks waiting for their retry time.
func (b *Backlog) Delayed(ctx context.Context) (int, error) {
	n, err := b.cli.ZCard(ctx, delayedKey)
	return int(n), err
}

func (b *Backlog) promoteDue(ctx context.Context) error {
	due, err := b.cli.ZRangeByScore(ctx, delayedKey, float64(b.now().UnixMilli()), promoteBatch)
	if err != nil {
		return err
	}
	for _, member := range due {
		// Only the worker that removed the member re-queues it.
		n, err := b.cli.ZRem(ctx, delayedKey, member)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		var t model.Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			continue
		}
		if err := b.Push(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}

func score(priority int, seq int64) float64 {
	return float64(priority)*priorityBand + (priorityBand - float64(seq%int64(priorityBand)))
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// IsEmpty reports whether err is the timeout of an empty Pop.
func IsEmpty(err error) bool { return errors.Is(err, domain.ErrNotFound) }
