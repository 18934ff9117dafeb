// Package pipeline turns one long recording into a single time-ordered,
// speaker-labeled transcript by transcribing overlapping windows in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/governor"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Progress milestones of the transcription phase.
const (
	progressLoaded   = 5.0
	progressSplit    = 10.0
	progressTransEnd = 30.0
)

// Reporter receives progress updates for a job. A terminal-job error means
// the job was canceled from outside and processing must stop.
type Reporter interface {
	Update(id string, upd model.JobUpdate) (model.JobView, error)
}

// MemoryMonitor is consulted around every window.
type MemoryMonitor interface {
	Monitor() governor.Pressure
}

type Options struct {
	ChunkDuration    float64 // seconds
	ChunkOverlap     float64 // seconds
	MaxSpeakers      int
	SpeakerThreshold float64 // seconds
	InitialPrompt    string
	TempDir          string
}

func OptionsFrom(p config.PipelineConfig, t config.TranscriberConfig, m config.MediaConfig) Options {
	return Options{
		ChunkDuration:    p.ChunkDuration.Seconds(),
		ChunkOverlap:     p.ChunkOverlap.Seconds(),
		MaxSpeakers:      p.MaxSpeakers,
		SpeakerThreshold: p.SpeakerChangeThreshold.Seconds(),
		InitialPrompt:    t.InitialPrompt,
		TempDir:          m.TempDir,
	}
}

type Pipeline struct {
	media    adapter.MediaTool
	engine   adapter.Transcriber
	progress Reporter
	memory   MemoryMonitor
	opts     Options
	log      *zerolog.Logger
}

func New(media adapter.MediaTool, engine adapter.Transcriber, progress Reporter, memory MemoryMonitor, opts Options, logger *zerolog.Logger) *Pipeline {
	l := logger.With().Str("component", "ChunkedMediaPipeline").Logger()
	return &Pipeline{
		media:    media,
		engine:   engine,
		progress: progress,
		memory:   memory,
		opts:     opts,
		log:      &l,
	}
}

// Transcribe processes audioPath window by window. A window that fails is
// logged and skipped; the call fails only when cancellation is observed or
// when no window could be transcribed at all.
func (p *Pipeline) Transcribe(ctx context.Context, jobID, audioPath, language string) (*model.Transcript, error) {
	log := logging.With(logging.WithJobID(ctx, jobID), p.log)
	defer logging.Span(log, "transcribe")()

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if language == "auto" {
		language = ""
	}

	duration, err := p.media.Duration(ctx, audioPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		log.Warn().Err(err).Str("path", audioPath).Msg("could not probe duration, processing as a single window")
		duration = 0
	}
	log.Info().Float64("duration", duration).Msg("processing audio file")

	total := int64(duration)
	if err := p.report(jobID, model.JobUpdate{
		Phase:    model.PhasePtr(model.PhaseTranscribing),
		Progress: model.Float(progressLoaded),
		Message:  model.Str(fmt.Sprintf("Audio file loaded: %.1fs duration", duration)),
		Current:  model.Int64(0),
		Total:    model.Int64(total),
	}); err != nil {
		return nil, err
	}

	windows := PlanWindows(duration, p.opts.ChunkDuration, p.opts.ChunkOverlap)
	log.Info().Int("chunks", len(windows)).Float64("window", p.opts.ChunkDuration).Float64("overlap", p.opts.ChunkOverlap).Msg("split audio into chunks")
	if err := p.report(jobID, model.JobUpdate{
		Progress: model.Float(progressSplit),
		Message:  model.Str(fmt.Sprintf("Processing %d audio chunks", len(windows))),
	}); err != nil {
		return nil, err
	}

	tracker := newSpeakerTracker(p.opts.MaxSpeakers, p.opts.SpeakerThreshold, p.opts.ChunkDuration)
	out := &model.Transcript{Language: language, Duration: duration, Chunks: len(windows)}
	var parts []string
	processed := 0.0

	for i, w := range windows {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		if p.memory != nil {
			p.memory.Monitor()
		}

		segs, lang, err := p.transcribeWindow(ctx, audioPath, w, len(windows) == 1 && w.End == 0, contextPrompt(p.opts.InitialPrompt, i, tracker), language)
		if err != nil {
			if ctx.Err() != nil {
				return nil, canceled(ctx)
			}
			out.Failed++
			metrics.IncChunk("failed")
			log.Error().Err(err).Int("chunk", i).Float64("start", w.Start).Float64("end", w.End).Msg("chunk failed, skipping")
			continue
		}
		metrics.IncChunk("ok")
		if out.Language == "" && lang != "" {
			out.Language = lang
		}

		for _, s := range segs {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			start, end := w.Start+s.Start, w.Start+s.End
			id := tracker.assign(i, start, end, text)
			out.Segments = append(out.Segments, model.Segment{
				Start:     start,
				End:       end,
				Text:      text,
				Speaker:   model.SpeakerLabel(id),
				SpeakerID: id,
			})
			parts = append(parts, model.SpeakerLabel(id)+": "+text)
		}

		processed += w.Duration()
		current := int64(processed)
		if total > 0 {
			current = min(current, total) // overlap counts twice
		}
		if err := p.report(jobID, model.JobUpdate{
			Progress: model.Float(min(progressTransEnd, progressSplit+processed/max(duration, 1)*(progressTransEnd-progressSplit))),
			Current:  model.Int64(current),
			Total:    model.Int64(total),
			Message:  model.Str(fmt.Sprintf("Transcribed chunk %d/%d - %d speakers identified", i+1, len(windows), tracker.speakers())),
		}); err != nil {
			return nil, err
		}
	}

	if p.memory != nil {
		p.memory.Monitor()
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if len(out.Segments) == 0 && out.Failed == len(windows) {
		return nil, domain.NewStageError("transcribe", "transcription failed for every audio chunk", domain.ErrTranscription)
	}

	out.Text = strings.TrimSpace(strings.Join(parts, "\n"))
	out.Speakers = tracker.speakers()
	log.Info().
		Int("segments", len(out.Segments)).
		Int("chars", len(out.Text)).
		Int("speakers", out.Speakers).
		Int("failed_chunks", out.Failed).
		Msg("transcription completed")
	return out, nil
}

// transcribeWindow extracts one window (unless whole is set) and runs the
// engine on it. The extracted file is removed whatever the outcome.
func (p *Pipeline) transcribeWindow(ctx context.Context, src string, w model.ChunkDescriptor, whole bool, prompt, language string) ([]adapter.TimedText, string, error) {
	path := src
	if !whole {
		path = chunkPath(p.opts.TempDir, src, w.Index)
		defer removeChunk(path, p.log)
		if err := p.media.Extract(ctx, src, path, w.Start, w.Duration()); err != nil {
			return nil, "", fmt.Errorf("extract chunk %d: %w", w.Index, err)
		}
	}

	started := time.Now()
	res, err := p.engine.Transcribe(ctx, path, adapter.TranscribeOptions{Language: language, Prompt: prompt})
	if err != nil {
		return nil, "", fmt.Errorf("transcribe chunk %d: %w", w.Index, err)
	}
	p.log.Debug().Int("chunk", w.Index).Int("segments", len(res.Segments)).Dur("took", time.Since(started)).Msg("chunk transcribed")
	return res.Segments, res.Language, nil
}

func (p *Pipeline) report(jobID string, upd model.JobUpdate) error {
	if p.progress == nil {
		return nil
	}
	_, err := p.progress.Update(jobID, upd)
	if errors.Is(err, domain.ErrInvalidTransition) && upd.Phase != nil {
		// A retried task may find the job already past transcribing.
		upd.Phase = nil
		_, err = p.progress.Update(jobID, upd)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrJobTerminal):
		return domain.ErrJobCanceled
	default:
		return err
	}
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return canceled(ctx)
	}
	return nil
}

func canceled(ctx context.Context) error { return domain.ContextError(ctx) }

func removeChunk(path string, log *zerolog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to clean up chunk file")
	}
}
