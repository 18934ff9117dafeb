package ai

import (
	"context"
	"time"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/metrics"
)

type instrumentedAI struct {
	provider string
	inner    adapter.Generator
}

// Instrument records latency and token usage of every call under provider.
func Instrument(provider string, inner adapter.Generator) adapter.Generator {
	return &instrumentedAI{provider: provider, inner: inner}
}

func (i *instrumentedAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	text, _, err := i.GenerateWithUsage(ctx, prompt, opts)
	return text, err
}

func (i *instrumentedAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	start := time.Now()
	text, u, err := i.inner.GenerateWithUsage(ctx, prompt, opts)
	metrics.ObserveGeneration(i.provider, opts.Model, u.PromptTokens, u.CompletionTokens, time.Since(start).Seconds(), err == nil)
	return text, u, err
}
