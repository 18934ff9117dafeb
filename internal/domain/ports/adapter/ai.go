package adapter

import "context"

// GenerateOptions are the sampling knobs passed to the generation service.
// Zero values mean "provider default".
type GenerateOptions struct {
	Model       string
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Usage for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generator is the port for the text-generation service.
type Generator interface {
	// Generate returns the generated text for a single prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateWithUsage returns text + usage as reported by the provider.
	GenerateWithUsage(ctx context.Context, prompt string, opts GenerateOptions) (string, Usage, error)
}

// TokenCounter estimates prompt size for a model
// (provider-specific counting; best-effort when exact isn't available).
type TokenCounter interface {
	CountTokens(text string) int
	// Truncate returns the longest prefix of text that fits in maxTokens.
	Truncate(text string, maxTokens int) string
}
