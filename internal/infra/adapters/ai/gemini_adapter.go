package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Generator = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiAdapter talks to the Gemini API (or a compatible proxy at baseURL).
// defaultModel is used when a call leaves GenerateOptions.Model empty.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	text, _, err := g.GenerateWithUsage(ctx, prompt, opts)
	return text, err
}

func (g *GeminiAdapter) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	resp, err := g.client.Models.GenerateContent(ctx, modelOrDefault(opts.Model, g.defaultModel), genai.Text(prompt), geminiConfig(opts))
	if err != nil {
		return "", adapter.Usage{}, fmt.Errorf("gemini: %w: %w", domain.ErrGeneration, err)
	}

	var u adapter.Usage
	if m := resp.UsageMetadata; m != nil {
		u = adapter.Usage{
			PromptTokens:     int(m.PromptTokenCount),
			CompletionTokens: int(m.CandidatesTokenCount),
			TotalTokens:      int(m.TotalTokenCount),
		}
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		// A blocked prompt fails the same way on every attempt.
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", u, fmt.Errorf("gemini: %w: prompt blocked (%s)", domain.ErrInvalidArgument, fb.BlockReason)
		}
		return "", u, fmt.Errorf("gemini: %w: empty response", domain.ErrGeneration)
	}
	return text, u, nil
}

// geminiConfig maps the sampling knobs; zero values are left to the provider.
func geminiConfig(opts adapter.GenerateOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(opts.MaxTokens)}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(opts.TopP))
	}
	if opts.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(opts.TopK))
	}
	return cfg
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
