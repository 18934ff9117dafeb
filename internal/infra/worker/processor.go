package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/infra/i18n"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/summarize"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

const (
	progressFinalizing = 95.0
	progressDone       = 100.0
)

type Transcriber interface {
	Transcribe(ctx context.Context, jobID, audioPath, language string) (*model.Transcript, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript, lang string, onProgress summarize.ProgressFunc) (*model.MeetingSummary, error)
	Markdown(ms *model.MeetingSummary, lang string) string
}

// Cleaner forces release of heavyweight resources.
type Cleaner interface {
	Cleanup() int
}

// MeetingProcessor chains transcription, summarization and persistence for
// one job. It serves every task type.
type MeetingProcessor struct {
	pipeline   Transcriber
	summarizer Summarizer
	progress   Progress
	catalog    *i18n.Catalog
	repo       repository.MeetingRepository
	tm         repository.TransactionManager
	cleaner    Cleaner
	log        *zerolog.Logger
}

func NewMeetingProcessor(
	pipeline Transcriber,
	summarizer Summarizer,
	progress Progress,
	catalog *i18n.Catalog,
	cleaner Cleaner,
	logger *zerolog.Logger,
) *MeetingProcessor {
	l := logger.With().Str("component", "MeetingProcessor").Logger()
	return &MeetingProcessor{
		pipeline:   pipeline,
		summarizer: summarizer,
		progress:   progress,
		catalog:    catalog,
		cleaner:    cleaner,
		log:        &l,
	}
}

// WithPersistence stores finished results through repo inside tm transactions.
func (p *MeetingProcessor) WithPersistence(repo repository.MeetingRepository, tm repository.TransactionManager) *MeetingProcessor {
	p.repo = repo
	p.tm = tm
	return p
}

// Register wires the processor for all task types.
func (p *MeetingProcessor) Register(s *Scheduler) {
	s.Register(model.TaskTranscription, p)
	s.Register(model.TaskSummarization, p)
	s.Register(model.TaskTranscribeAndSummarize, p)
}

func (p *MeetingProcessor) Handle(ctx context.Context, task *model.Task) ([]byte, error) {
	var (
		res *model.JobResult
		err error
	)
	switch task.Type {
	case model.TaskTranscription:
		res, err = p.runMedia(ctx, task, false)
	case model.TaskTranscribeAndSummarize:
		res, err = p.runMedia(ctx, task, true)
	case model.TaskSummarization:
		res, err = p.runText(ctx, task)
	default:
		return nil, fmt.Errorf("%s: %w", task.Type, domain.ErrUnknownTaskType)
	}
	if err != nil {
		return nil, err
	}
	return p.finalize(ctx, task, res)
}

func (p *MeetingProcessor) runMedia(ctx context.Context, task *model.Task, withSummary bool) (*model.JobResult, error) {
	var pl model.MediaPayload
	if err := json.Unmarshal(task.Payload, &pl); err != nil || pl.AudioPath == "" {
		return nil, domain.NewStageError("decode", "invalid task payload", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
	}
	tr, err := p.pipeline.Transcribe(ctx, task.JobID, pl.AudioPath, pl.Language)
	if err != nil {
		return nil, err
	}
	res := &model.JobResult{
		JobID:      task.JobID,
		Language:   tr.Language,
		Duration:   tr.Duration,
		Transcript: tr.Text,
		Segments:   tr.Segments,
	}
	if !withSummary {
		return res, nil
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil, domain.NewStageError("transcribe", "no speech detected in audio", domain.ErrEmptyTranscript)
	}
	lang := summaryLanguage(pl.Language, tr.Language)
	if err := p.summarizeInto(ctx, task.JobID, res, lang); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *MeetingProcessor) runText(ctx context.Context, task *model.Task) (*model.JobResult, error) {
	var pl model.TextPayload
	if err := json.Unmarshal(task.Payload, &pl); err != nil {
		return nil, domain.NewStageError("decode", "invalid task payload", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
	}
	if strings.TrimSpace(pl.Transcript) == "" {
		return nil, domain.NewStageError("summarize", "transcript is empty", domain.ErrEmptyTranscript)
	}
	res := &model.JobResult{JobID: task.JobID, Language: pl.Language, Transcript: pl.Transcript}
	if err := p.summarizeInto(ctx, task.JobID, res, summaryLanguage(pl.Language, "")); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *MeetingProcessor) summarizeInto(ctx context.Context, jobID string, res *model.JobResult, lang string) error {
	tr := p.catalog.For(lang)
	if err := p.report(jobID, model.JobUpdate{
		Phase:    model.PhasePtr(model.PhaseSummarizing),
		Progress: model.Float(30),
		Message:  model.Str(tr.T("job.summarizing")),
	}); err != nil {
		return err
	}
	summary, err := p.summarizer.Summarize(ctx, res.Transcript, lang, func(progress float64, current, total int64, message string) error {
		return p.report(jobID, model.JobUpdate{
			Progress: model.Float(progress),
			Current:  model.Int64(current),
			Total:    model.Int64(total),
			Message:  model.Str(message),
		})
	})
	if err != nil {
		return err
	}
	if res.Duration > 0 {
		summary.Duration = res.Duration
	}
	res.Summary = summary
	res.Markdown = p.summarizer.Markdown(summary, lang)
	return nil
}

func (p *MeetingProcessor) finalize(ctx context.Context, task *model.Task, res *model.JobResult) ([]byte, error) {
	log := logging.With(ctx, p.log)
	tr := p.catalog.For(res.Language)
	if err := p.report(task.JobID, model.JobUpdate{
		Phase:    model.PhasePtr(model.PhaseFinalizing),
		Progress: model.Float(progressFinalizing),
		Message:  model.Str(tr.T("job.finalizing")),
	}); err != nil {
		return nil, err
	}

	if p.repo != nil && p.tm != nil {
		err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return p.repo.SaveResult(ctx, tx, task.UserID, res)
		})
		if err != nil {
			return nil, domain.NewStageError("persist", "could not store meeting results", fmt.Errorf("%w: %w", domain.ErrConnection, err))
		}
	}

	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := p.report(task.JobID, model.JobUpdate{
		Phase:    model.PhasePtr(model.PhaseDone),
		Progress: model.Float(progressDone),
		Message:  model.Str(tr.T("job.done")),
	}); err != nil {
		return nil, err
	}
	p.removeUpload(task)
	log.Info().Int("segments", len(res.Segments)).Int("chars", len(res.Transcript)).Bool("summary", res.Summary != nil).Msg("job finished")
	return body, nil
}

// OnFailure is the emergency cleanup after a permanent failure.
func (p *MeetingProcessor) OnFailure(ctx context.Context, task *model.Task, err error) {
	log := logging.With(ctx, p.log)
	released := 0
	if p.cleaner != nil {
		released = p.cleaner.Cleanup()
	}
	p.removeUpload(task)
	log.Warn().Err(err).Int("released", released).Msg("emergency cleanup after task failure")
}

func (p *MeetingProcessor) removeUpload(task *model.Task) {
	if task.Type == model.TaskSummarization {
		return
	}
	var pl model.MediaPayload
	if json.Unmarshal(task.Payload, &pl) != nil || pl.AudioPath == "" {
		return
	}
	if err := os.Remove(pl.AudioPath); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", pl.AudioPath).Msg("failed to remove upload")
	}
}

func (p *MeetingProcessor) report(jobID string, upd model.JobUpdate) error {
	_, err := p.progress.Update(jobID, upd)
	if errors.Is(err, domain.ErrInvalidTransition) && upd.Phase != nil {
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

func summaryLanguage(requested, detected string) string {
	if requested != "" && requested != "auto" {
		return requested
	}
	if detected != "" {
		return detected
	}
	return i18n.DefaultLang
}
