// Package summarize turns a long transcript into a structured meeting summary
// with a map/group/reduce pass over the text-generation service.
package summarize

import (
	"context"
	"errors"
	"strings"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/i18n"

	"github.com/rs/zerolog"
)

const (
	hierarchicalQuality = 0.85
	fallbackQuality     = 0.3
	fallbackPrefixChars = 2000
	maxNextActions      = 5
	maxNextRisks        = 3
)

var (
	mapOptions      = adapter.GenerateOptions{Temperature: 0.1, TopP: 0.8, TopK: 10, MaxTokens: 500}
	reduceOptions   = adapter.GenerateOptions{Temperature: 0.2, TopP: 0.8, TopK: 10, MaxTokens: 400}
	fallbackOptions = adapter.GenerateOptions{Temperature: 0.3, MaxTokens: 200}
)

// ProgressFunc receives summarization milestones. A non-nil error stops the
// run and is reported as a cancellation.
type ProgressFunc func(progress float64, current, total int64, message string) error

type Summarizer struct {
	gen           adapter.Generator
	counter       adapter.TokenCounter
	catalog       *i18n.Catalog
	sizes         WindowSizes
	model         string
	contextTokens int
	log           *zerolog.Logger
}

func New(gen adapter.Generator, counter adapter.TokenCounter, catalog *i18n.Catalog, cfg config.SummaryConfig, ai config.AIConfig, logger *zerolog.Logger) *Summarizer {
	l := logger.With().Str("component", "HierarchicalSummarizer").Logger()
	return &Summarizer{
		gen:     gen,
		counter: counter,
		catalog: catalog,
		sizes: WindowSizes{
			Optimal: cfg.OptimalChars,
			Max:     cfg.MaxChars,
			Min:     cfg.MinChars,
		},
		model:         ai.DefaultModel,
		contextTokens: ai.ContextTokens,
		log:           &l,
	}
}

// Summarize never fails on generation problems: it degrades to a single-shot
// summary and then to a fixed apology. The only error it returns is the
// cancellation of ctx or of the progress callback.
func (s *Summarizer) Summarize(ctx context.Context, transcript, lang string, onProgress ProgressFunc) (*model.MeetingSummary, error) {
	tr := s.catalog.For(lang)
	started := time.Now()
	s.log.Info().Int("chars", len(transcript)).Str("lang", tr.Lang()).Msg("starting hierarchical summarization")

	if strings.TrimSpace(transcript) == "" {
		return failedSummary(tr), nil
	}

	summary, err := s.hierarchical(ctx, transcript, tr, onProgress)
	if err == nil {
		s.log.Info().Int("sections", len(summary.Sections)).Dur("took", time.Since(started)).Msg("hierarchical summarization completed")
		return summary, nil
	}
	if ctx.Err() != nil {
		return nil, domain.ContextError(ctx)
	}
	if errors.Is(err, domain.ErrJobCanceled) {
		return nil, err
	}

	s.log.Warn().Err(err).Msg("hierarchical summarization failed, using fallback summary")
	return s.fallback(ctx, transcript, tr)
}

func (s *Summarizer) hierarchical(ctx context.Context, transcript string, tr *i18n.Translator, onProgress ProgressFunc) (*model.MeetingSummary, error) {
	windows := splitWindows(transcript, s.sizes)
	s.log.Debug().Int("windows", len(windows)).Msg("transcript split")

	var chunks []*model.ChunkSummary
	for i, w := range windows {
		if err := s.step(ctx, onProgress, 30+float64(i)/float64(len(windows))*40, int64(i), int64(len(windows)), tr.T("job.map", i+1, len(windows))); err != nil {
			return nil, err
		}
		resp, err := s.gen.Generate(ctx, tr.T("summary.map_prompt", i+1, w), s.opts(mapOptions))
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.ContextError(ctx)
			}
			s.log.Warn().Err(err).Int("chunk", i).Msg("map step failed, skipping chunk")
			continue
		}
		chunks = append(chunks, parseChunk(resp, w, i, tr.T("summary.general_topic")))
	}
	if len(chunks) == 0 {
		return nil, domain.NewStageError("map", "no transcript window could be summarized", domain.ErrGeneration)
	}

	if err := s.step(ctx, onProgress, 70, int64(len(windows)), int64(len(windows)), tr.T("job.group")); err != nil {
		return nil, err
	}
	sections := groupSections(chunks)

	if err := s.step(ctx, onProgress, 85, int64(len(windows)), int64(len(windows)), tr.T("job.reduce")); err != nil {
		return nil, err
	}
	return s.reduce(ctx, sections, tr)
}

func (s *Summarizer) reduce(ctx context.Context, sections []*model.SectionSummary, tr *i18n.Translator) (*model.MeetingSummary, error) {
	agg := aggregate(sections)

	digest := s.fit(formatDigest(sections, tr), func(d string) string {
		return tr.T("summary.reduce_prompt", len(sections), d)
	}, reduceOptions.MaxTokens)
	overview, err := s.gen.Generate(ctx, tr.T("summary.reduce_prompt", len(sections), digest), s.opts(reduceOptions))
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx)
		}
		return nil, domain.NewStageError("reduce", "overview generation failed", err)
	}

	agg.Overview = strings.TrimSpace(overview)
	agg.NextSteps = nextSteps(agg.ActionItems, agg.Risks, tr)
	agg.Quality = hierarchicalQuality
	return agg, nil
}

// aggregate builds everything in the meeting summary except the generated
// overview and next steps. It only reads the sections.
func aggregate(sections []*model.SectionSummary) *model.MeetingSummary {
	var (
		participants, topics, decisions, risks []string
		actions                                []model.ActionItem
	)
	for _, sec := range sections {
		topics = append(topics, sec.Topic)
		decisions = append(decisions, sec.Decisions...)
		actions = append(actions, sec.Actions...)
		risks = append(risks, sec.Risks...)
		for _, c := range sec.Chunks {
			for _, p := range c.Participants {
				if p != "" {
					participants = append(participants, p)
				}
			}
		}
	}

	ms := &model.MeetingSummary{
		Participants: dedupStrings(participants),
		KeyTopics:    topics,
		Sections:     sections,
		Decisions:    dedupStrings(decisions),
		ActionItems:  dedupActions(actions),
		Risks:        dedupStrings(risks),
	}
	if len(sections) > 0 {
		ms.Duration = sections[len(sections)-1].EndTime
	}
	return ms
}

func formatDigest(sections []*model.SectionSummary, tr *i18n.Translator) string {
	parts := make([]string, 0, len(sections))
	for i, sec := range sections {
		var b strings.Builder
		b.WriteString(tr.T("digest.section", i+1, sec.Topic))
		if len(sec.Points) > 0 {
			b.WriteString(tr.T("digest.key_points", strings.Join(head(sec.Points, 3), "; ")))
		}
		if len(sec.Decisions) > 0 {
			b.WriteString(tr.T("digest.decisions", strings.Join(head(sec.Decisions, 2), "; ")))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

func nextSteps(actions []model.ActionItem, risks []string, tr *i18n.Translator) []string {
	var steps []string
	for _, a := range headActions(actions, maxNextActions) {
		if a.Task == "" {
			continue
		}
		step := a.Task
		if a.Owner != "" && a.Owner != model.TBD {
			step += tr.T("summary.step_owner", a.Owner)
		}
		if a.Due != "" && a.Due != model.TBD {
			step += tr.T("summary.step_due", a.Due)
		}
		steps = append(steps, step)
	}
	for _, r := range head(risks, maxNextRisks) {
		steps = append(steps, tr.T("summary.mitigate_risk", r))
	}
	return steps
}

func (s *Summarizer) fallback(ctx context.Context, transcript string, tr *i18n.Translator) (*model.MeetingSummary, error) {
	prefix := s.fit(truncateRunes(transcript, fallbackPrefixChars), func(p string) string {
		return tr.T("summary.fallback_prompt", p)
	}, fallbackOptions.MaxTokens)

	text, err := s.gen.Generate(ctx, tr.T("summary.fallback_prompt", prefix), s.opts(fallbackOptions))
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ContextError(ctx)
		}
		s.log.Error().Err(err).Msg("fallback summary failed")
		return failedSummary(tr), nil
	}
	return &model.MeetingSummary{
		Overview:     strings.TrimSpace(text),
		Participants: []string{tr.T("summary.unknown_participant")},
		KeyTopics:    []string{tr.T("summary.general_topic")},
		Quality:      fallbackQuality,
	}, nil
}

func failedSummary(tr *i18n.Translator) *model.MeetingSummary {
	return &model.MeetingSummary{Overview: tr.T("summary.failed_overview")}
}

// fit trims text so that the prompt built around it, plus the completion
// budget, stays within the model's context window.
func (s *Summarizer) fit(text string, wrap func(string) string, completion int) string {
	if s.counter == nil || s.contextTokens <= 0 {
		return text
	}
	budget := s.contextTokens - completion - s.counter.CountTokens(wrap(""))
	if budget <= 0 {
		return ""
	}
	if s.counter.CountTokens(text) <= budget {
		return text
	}
	s.log.Debug().Int("budget", budget).Msg("trimming prompt input to the context window")
	return s.counter.Truncate(text, budget)
}

func (s *Summarizer) opts(o adapter.GenerateOptions) adapter.GenerateOptions {
	o.Model = s.model
	return o
}

func (s *Summarizer) step(ctx context.Context, onProgress ProgressFunc, progress float64, current, total int64, msg string) error {
	if ctx.Err() != nil {
		return domain.ContextError(ctx)
	}
	if onProgress == nil {
		return nil
	}
	if err := onProgress(progress, current, total, msg); err != nil {
		return errors.Join(domain.ErrJobCanceled, err)
	}
	return nil
}

func head(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func headActions(in []model.ActionItem, n int) []model.ActionItem {
	if len(in) > n {
		return in[:n]
	}
	return in
}
