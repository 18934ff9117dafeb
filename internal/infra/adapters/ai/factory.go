package ai

import (
	"context"
	"fmt"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/resilience"

	"github.com/rs/zerolog"
)

// NewGenerator builds one adapter per configured provider and routes calls by
// model name. Concurrency is capped per attempt; transient failures are
// retried outside the cap. With no provider it returns the noop adapter so
// the rest of the pipeline still runs.
func NewGenerator(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.Generator, error) {
	providers := map[string]adapter.Generator{}
	defaultProvider := ""

	if cfg.GeminiKey != "" {
		g, err := NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = Instrument("gemini", g)
		defaultProvider = "gemini"
	}
	if cfg.OpenAIKey != "" {
		o, err := NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = Instrument("openai", o)
		if defaultProvider == "" {
			defaultProvider = "openai"
		}
	}
	if len(providers) == 0 {
		logger.Warn().Msg("no AI provider configured; summaries use the noop generator")
		return NewNoopAIAdapter(logger), nil
	}
	logger.Info().Str("default_provider", defaultProvider).Str("model", cfg.DefaultModel).Msg("AI adapters ready")

	multi := NewMultiAIAdapter(defaultProvider, providers, nil)
	return NewRetryingAI(NewLimitedAI(multi, cfg.ConcurrentLimit), resilience.GenerationPolicy(), logger), nil
}
