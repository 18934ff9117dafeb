package ai

import (
	"context"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Generator = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.Generator
	sem   chan struct{}
}

// NewLimitedAI caps the number of in-flight generation calls. Waiting for a
// slot honours ctx.
func NewLimitedAI(inner adapter.Generator, maxConcurrent int) adapter.Generator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, prompt, opts)
}

func (l *limitedAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	if err := l.acquire(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	defer func() { <-l.sem }()
	return l.inner.GenerateWithUsage(ctx, prompt, opts)
}
