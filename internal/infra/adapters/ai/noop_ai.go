package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Generator = (*NoopAIAdapter)(nil)

const noopStructured = `TOPIC: General Discussion
KEY POINTS:
- The meeting covered the uploaded recording
DECISIONS:
- No decisions were recorded
ACTIONS:
- Owner: TBD | Task: Review the transcript | Due: TBD
RISKS:
- Generation service is not configured
IMPORTANT QUOTE:
- Speaker: Speaker 1 | Quote: "Let's get started"
PARTICIPANTS: Speaker 1`

// NoopAIAdapter implements adapter.Generator for local/dev runs without a
// provider. Prompts asking for the structured layout get a canned structured
// answer, everything else the first line of the prompt input.
type NoopAIAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAI").Logger()
	return &NoopAIAdapter{delay: 100 * time.Millisecond, log: &l}
}

func (a *NoopAIAdapter) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	text, _, err := a.GenerateWithUsage(ctx, prompt, opts)
	return text, err
}

func (a *NoopAIAdapter) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	// Simulate processing and respect ctx
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	a.log.Debug().Int("prompt_chars", len(prompt)).Msg("noop generation")

	out := "This is a noop AI summary."
	if strings.Contains(prompt, "TOPIC:") || strings.Contains(prompt, "KONU:") {
		out = noopStructured
	}
	words := len(strings.Fields(prompt))
	return out, adapter.Usage{PromptTokens: words, CompletionTokens: len(strings.Fields(out)), TotalTokens: words + len(strings.Fields(out))}, nil
}
