//go:build !integration

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"meeting-ai-pipeline/internal/domain"
)

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsFirst(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("Do() = %v after %d calls, want nil after 1", err, calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrTimeout
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("Do() = %v after %d calls, want nil after 3", err, calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), nil, func(context.Context) error {
		calls++
		return domain.ErrConnection
	})
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("Do() = %v, want ErrConnection", err)
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnFatalError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func(context.Context) error {
		calls++
		return domain.ErrNoHandler
	})
	if !errors.Is(err, domain.ErrNoHandler) || calls != 1 {
		t.Errorf("Do() = %v after %d calls", err, calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastPolicy(3), nil, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("Do() = %v after %d calls", err, calls)
	}
}

func TestTaskPolicyDelay(t *testing.T) {
	p := TaskPolicy(2, 10*time.Minute, 40*time.Minute)
	want := []time.Duration{10 * time.Minute, 20 * time.Minute, 40 * time.Minute, 40 * time.Minute}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := TaskPolicy(2, time.Second, time.Minute)
	if !p.ShouldRetry(domain.ErrMemoryPressure, 0) || !p.ShouldRetry(domain.ErrMemoryPressure, 1) {
		t.Error("transient errors below the ceiling must be retried")
	}
	if p.ShouldRetry(domain.ErrMemoryPressure, 2) {
		t.Error("retry ceiling not respected")
	}
	if p.ShouldRetry(domain.ErrUnknownTaskType, 0) {
		t.Error("fatal errors must not be retried")
	}
}

func TestJitterStaysInBounds(t *testing.T) {
	p := Policy{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Second, JitterFactor: 0.2}
	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("jittered delay %v out of bounds", d)
		}
	}
}
