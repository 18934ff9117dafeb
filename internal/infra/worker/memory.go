package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"

	"github.com/google/uuid"
)

// MemoryBacklog is the single-process backlog used when no Redis is configured.
type MemoryBacklog struct {
	mu      sync.Mutex
	ready   taskHeap
	delayed []delayedTask
	seq     uint64
	signal  chan struct{}
	now     func() time.Time
}

type queued struct {
	task *model.Task
	seq  uint64
}

type delayedTask struct {
	task *model.Task
	at   time.Time
}

// taskHeap orders by priority descending, then by arrival.
type taskHeap []queued

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{signal: make(chan struct{}, 1), now: time.Now}
}

func (b *MemoryBacklog) Push(_ context.Context, task *model.Task) error {
	if task == nil {
		return domain.ErrInvalidArgument
	}
	b.mu.Lock()
	b.pushLocked(task)
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *MemoryBacklog) PushDelayed(ctx context.Context, task *model.Task, at time.Time) error {
	if task == nil {
		return domain.ErrInvalidArgument
	}
	if !at.After(b.now()) {
		return b.Push(ctx, task)
	}
	b.mu.Lock()
	b.delayed = append(b.delayed, delayedTask{task: task, at: at})
	b.mu.Unlock()
	return nil
}

func (b *MemoryBacklog) Pop(ctx context.Context, timeout time.Duration) (*model.Task, error) {
	deadline := b.now().Add(timeout)
	for {
		b.mu.Lock()
		b.promoteLocked()
		if b.ready.Len() > 0 {
			it := heap.Pop(&b.ready).(queued)
			b.mu.Unlock()
			return it.task, nil
		}
		wait := deadline.Sub(b.now())
		if next, ok := b.nextDueLocked(); ok && next < wait {
			wait = next
		}
		b.mu.Unlock()

		if wait <= 0 {
			return nil, domain.ErrNotFound
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-b.signal:
			t.Stop()
		case <-t.C:
		}
		if !b.now().Before(deadline) {
			b.mu.Lock()
			b.promoteLocked()
			empty := b.ready.Len() == 0
			b.mu.Unlock()
			if empty {
				return nil, domain.ErrNotFound
			}
		}
	}
}

func (b *MemoryBacklog) Len(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	return b.ready.Len(), nil
}

// Delayed is the number of tasks waiting for their retry time.
func (b *MemoryBacklog) Delayed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delayed)
}

func (b *MemoryBacklog) pushLocked(task *model.Task) {
	b.seq++
	heap.Push(&b.ready, queued{task: task, seq: b.seq})
}

func (b *MemoryBacklog) promoteLocked() {
	if len(b.delayed) == 0 {
		return
	}
	now := b.now()
	keep := b.delayed[:0]
	for _, d := range b.delayed {
		if !d.at.After(now) {
			b.pushLocked(d.task)
			continue
		}
		keep = append(keep, d)
	}
	b.delayed = keep
}

func (b *MemoryBacklog) nextDueLocked() (time.Duration, bool) {
	if len(b.delayed) == 0 {
		return 0, false
	}
	first := b.delayed[0].at
	for _, d := range b.delayed[1:] {
		if d.at.Before(first) {
			first = d.at
		}
	}
	return max(first.Sub(b.now()), time.Millisecond), true
}

func (b *MemoryBacklog) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// MemoryResults keeps task state and results with expiry.
type MemoryResults struct {
	mu      sync.Mutex
	states  map[string]expiring[model.TaskState]
	results map[string]expiring[[]byte]
	now     func() time.Time
}

type expiring[T any] struct {
	v   T
	exp time.Time
}

func (e expiring[T]) alive(now time.Time) bool { return e.exp.IsZero() || now.Before(e.exp) }

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{
		states:  make(map[string]expiring[model.TaskState]),
		results: make(map[string]expiring[[]byte]),
		now:     time.Now,
	}
}

func (m *MemoryResults) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryResults) SetState(_ context.Context, state *model.TaskState, ttl time.Duration) error {
	if state == nil || state.TaskID == "" {
		return domain.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TaskID] = expiring[model.TaskState]{v: *state, exp: m.expiry(ttl)}
	return nil
}

func (m *MemoryResults) GetState(_ context.Context, taskID string) (*model.TaskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[taskID]
	if !ok || !e.alive(m.now()) {
		delete(m.states, taskID)
		return nil, domain.ErrNotFound
	}
	st := e.v
	return &st, nil
}

func (m *MemoryResults) SetResult(_ context.Context, taskID string, result []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[taskID] = expiring[[]byte]{v: append([]byte(nil), result...), exp: m.expiry(ttl)}
	return nil
}

func (m *MemoryResults) GetResult(_ context.Context, taskID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.results[taskID]
	if !ok || !e.alive(m.now()) {
		delete(m.results, taskID)
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), e.v...), nil
}

// MemoryLocker is an in-process Locker with token ownership and expiry.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]expiring[string]
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]expiring[string]), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[key]; ok && cur.alive(l.now()) {
		return "", domain.ErrJobAlreadyRunning
	}
	token := uuid.NewString()
	l.locks[key] = expiring[string]{v: token, exp: l.now().Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[key]; ok && cur.v == token {
		delete(l.locks, key)
	}
	return nil
}
