package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/governor"
	aiAdapters "meeting-ai-pipeline/internal/infra/adapters/ai"
	"meeting-ai-pipeline/internal/infra/adapters/media"
	"meeting-ai-pipeline/internal/infra/adapters/transcriber"
	"meeting-ai-pipeline/internal/infra/i18n"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/infra/worker"
	"meeting-ai-pipeline/internal/pipeline"
	"meeting-ai-pipeline/internal/progress"
	"meeting-ai-pipeline/internal/summarize"
	"meeting-ai-pipeline/internal/usecase"
)

// demo runs one meeting through the whole stack in-process, printing progress
// as it arrives and the Markdown report at the end.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	file := flag.String("file", "", "audio or video file to process")
	text := flag.String("text", "", "transcript file to summarize instead of media")
	lang := flag.String("lang", "tr", "language code")
	transcribeOnly := flag.Bool("transcribe-only", false, "skip the summary")
	flag.Parse()

	if (*file == "") == (*text == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -text is required")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	catalog, err := i18n.NewCatalog(i18n.LocalesFS, "tr")
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	gen, err := aiAdapters.NewGenerator(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai")
	}

	var engine adapter.Transcriber = transcriber.Noop{}
	gov := governor.NewGovernor(cfg.Governor, governor.NewProcSampler(), logger)
	if cfg.Transcriber.APIKey != "" || cfg.Transcriber.BaseURL != "" {
		whisper := transcriber.NewWhisper(cfg.Transcriber, logger)
		gov.RegisterModel("whisper", whisper)
		engine = whisper
	}

	store := progress.NewStore(cfg.Progress.TTL, logger)
	pipe := pipeline.New(media.NewFFmpeg(cfg.Media.FFmpeg, cfg.Media.FFprobe, logger), engine, store, gov,
		pipeline.OptionsFrom(cfg.Pipeline, cfg.Transcriber, cfg.Media), logger)
	summarizer := summarize.New(gen, aiAdapters.NewTokenCounter("", logger), catalog, cfg.Summary, cfg.AI, logger)

	limiter := governor.NewRateLimiter(cfg.Governor, logger)
	scheduler := worker.NewScheduler(worker.NewMemoryBacklog(), worker.NewMemoryResults(), worker.NewMemoryLocker(),
		gov, store, cfg.Worker, logger).WithTracker(limiter)
	worker.NewMeetingProcessor(pipe, summarizer, store, catalog, gov, logger).Register(scheduler)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	jobs := usecase.NewJobUseCase(store, gov, limiter, scheduler, nil, cfg.Pipeline.AllowedLanguages, logger)

	var resp *usecase.SubmitResponse
	if *text != "" {
		body, err := os.ReadFile(*text)
		if err != nil {
			logger.Fatal().Err(err).Msg("read transcript")
		}
		resp, err = jobs.SubmitText(ctx, usecase.TextRequest{UserID: "demo", Transcript: string(body), Language: *lang, Priority: model.PriorityNormal})
		if err != nil {
			logger.Fatal().Err(err).Msg("submit")
		}
	} else {
		// The processor removes the upload when it is done; work on a copy.
		path, size, err := stage(*file, cfg.HTTP.UploadDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("stage upload")
		}
		resp, err = jobs.Submit(ctx, usecase.SubmitRequest{
			UserID:         "demo",
			AudioPath:      path,
			FileName:       filepath.Base(*file),
			SizeBytes:      size,
			Language:       *lang,
			TranscribeOnly: *transcribeOnly,
			Priority:       model.PriorityNormal,
		})
		if err != nil {
			_ = os.Remove(path)
			logger.Fatal().Err(err).Msg("submit")
		}
	}
	fmt.Printf("job %s queued (task %s)\n", resp.JobID, resp.TaskID)

	updates, unsubscribe, err := jobs.Watch(ctx, resp.JobID)
	if err != nil {
		logger.Fatal().Err(err).Msg("watch")
	}
	defer unsubscribe()

	start := time.Now()
	for v := range updates {
		fmt.Printf("[%6.1fs] %-12s %5.1f%%  %s\n", time.Since(start).Seconds(), v.Phase, v.Progress, v.Message)
	}

	final, err := jobs.Status(ctx, resp.JobID)
	if err != nil || final.Phase != model.PhaseDone {
		fmt.Fprintf(os.Stderr, "job ended in %s: %s\n", final.Phase, final.Message)
		os.Exit(1)
	}
	// The result lands in the store right after the final progress update.
	res, err := awaitResult(ctx, jobs, resp.JobID)
	if err != nil {
		logger.Fatal().Err(err).Msg("result")
	}
	if res.Markdown != "" {
		fmt.Println(res.Markdown)
		return
	}
	fmt.Println(res.Transcript)
}

func stage(src, dir string) (string, int64, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	body, err := os.ReadFile(src)
	if err != nil {
		return "", 0, err
	}
	dst := filepath.Join(dir, fmt.Sprintf("demo-%d%s", time.Now().UnixNano(), filepath.Ext(src)))
	if err := os.WriteFile(dst, body, 0o600); err != nil {
		return "", 0, err
	}
	return dst, int64(len(body)), nil
}

func awaitResult(ctx context.Context, jobs usecase.JobUseCase, jobID string) (*model.JobResult, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := jobs.Result(ctx, jobID)
		if err == nil || time.Now().After(deadline) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
