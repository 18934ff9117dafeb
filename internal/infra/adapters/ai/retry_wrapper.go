package ai

import (
	"context"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/resilience"

	"github.com/rs/zerolog"
)

var _ adapter.Generator = (*retryingAI)(nil)

type retryingAI struct {
	inner  adapter.Generator
	policy resilience.Policy
	log    *zerolog.Logger
}

// NewRetryingAI retries transient generation failures with backoff before
// the caller sees them. Validation and fatal errors return at once.
func NewRetryingAI(inner adapter.Generator, policy resilience.Policy, logger *zerolog.Logger) adapter.Generator {
	l := logger.With().Str("component", "RetryingAI").Logger()
	return &retryingAI{inner: inner, policy: policy, log: &l}
}

func (r *retryingAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	text, _, err := r.GenerateWithUsage(ctx, prompt, opts)
	return text, err
}

func (r *retryingAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	var (
		text  string
		usage adapter.Usage
	)
	err := resilience.Do(ctx, r.policy, r.log, func(ctx context.Context) error {
		var err error
		text, usage, err = r.inner.GenerateWithUsage(ctx, prompt, opts)
		return err
	})
	if err != nil {
		return "", adapter.Usage{}, err
	}
	return text, usage, nil
}
