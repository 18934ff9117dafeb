package ai

import (
	"context"
	"errors"
	"strings"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Generator = (*MultiAIAdapter)(nil)

var errNoProvider = errors.New("ai: no generation provider configured")

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.Generator
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

// NewMultiAIAdapter routes each call by its model name. It only knows a
// default provider; each provider adapter owns its default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.Generator,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) adapter.Generator {
	if a := m.byProvider[m.resolveProvider(model)]; a != nil {
		return a
	}
	// last resort: default provider, then anything configured
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return a
	}
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAIAdapter) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	a := m.pick(opts.Model)
	if a == nil {
		return "", errNoProvider
	}
	return a.Generate(ctx, prompt, opts)
}

func (m *MultiAIAdapter) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	a := m.pick(opts.Model)
	if a == nil {
		return "", adapter.Usage{}, errNoProvider
	}
	return a.GenerateWithUsage(ctx, prompt, opts)
}
