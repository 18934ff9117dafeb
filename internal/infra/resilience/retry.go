// Package resilience provides retry with exponential backoff.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"meeting-ai-pipeline/internal/domain"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 10 * time.Minute
	DefaultMaxDelay   = 40 * time.Minute

	// Generation calls: short in-process retries against flaky backends.
	GenerationMaxRetries = 2
	GenerationBaseDelay  = 2 * time.Second
	GenerationMaxDelay   = 15 * time.Second
)

// Policy describes how often and how late a failed operation is retried.
// JitterFactor 0 keeps delays deterministic.
type Policy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// TaskPolicy is the backlog re-enqueue policy: base * 2^attempt, capped.
func TaskPolicy(maxRetries int, base, max time.Duration) Policy {
	return Policy{
		MaxRetries:  maxRetries,
		BaseDelay:   base,
		MaxDelay:    max,
		IsRetryable: domain.IsRetryable,
	}.withDefaults()
}

func GenerationPolicy() Policy {
	return Policy{
		MaxRetries:   GenerationMaxRetries,
		BaseDelay:    GenerationBaseDelay,
		MaxDelay:     GenerationMaxDelay,
		JitterFactor: 0.2,
		IsRetryable:  domain.IsRetryable,
	}
}

// ShouldRetry reports whether a task that has already been retried
// `retries` times may run again after err.
func (p Policy) ShouldRetry(err error, retries int) bool {
	p = p.withDefaults()
	return retries < p.MaxRetries && p.IsRetryable(err)
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay << min(attempt, 16) // cap shift to prevent overflow
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFactor > 0 {
		jitter := float64(delay) * p.JitterFactor * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitter)
	}
	return delay
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// retries run out. The last error is returned.
func Do(ctx context.Context, p Policy, logger *zerolog.Logger, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if !p.IsRetryable(lastErr) || attempt == p.MaxRetries {
			return lastErr
		}

		delay := p.Delay(attempt)
		if logger != nil {
			logger.Debug().Err(lastErr).Int("attempt", attempt+1).Int("max", p.MaxRetries).
				Dur("delay", delay).Msg("retrying after error")
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.IsRetryable == nil {
		p.IsRetryable = domain.IsRetryable
	}
	return p
}
