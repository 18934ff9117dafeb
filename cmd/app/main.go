package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/governor"
	aiAdapters "meeting-ai-pipeline/internal/infra/adapters/ai"
	"meeting-ai-pipeline/internal/infra/adapters/media"
	"meeting-ai-pipeline/internal/infra/adapters/transcriber"
	"meeting-ai-pipeline/internal/infra/api"
	pg "meeting-ai-pipeline/internal/infra/db/postgres"
	"meeting-ai-pipeline/internal/infra/i18n"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/infra/metrics"
	red "meeting-ai-pipeline/internal/infra/redis"
	"meeting-ai-pipeline/internal/infra/sched"
	"meeting-ai-pipeline/internal/infra/security"
	"meeting-ai-pipeline/internal/infra/web"
	"meeting-ai-pipeline/internal/infra/worker"
	"meeting-ai-pipeline/internal/pipeline"
	"meeting-ai-pipeline/internal/progress"
	"meeting-ai-pipeline/internal/summarize"
	"meeting-ai-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop engines)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	catalog, err := i18n.NewCatalog(i18n.LocalesFS, "tr")
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Shared state: Redis when configured, in-process otherwise ----
	var (
		backlog   repository.Backlog
		results   repository.ResultStore
		locker    repository.Locker
		allower   api.Allower
		redisConn red.RedisClient
	)
	if cfg.Redis.URL != "" {
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		redisConn = client
		backlog = red.NewBacklog(client)
		results = red.NewResultStore(client)
		locker = red.NewLocker(client)
		allower = red.NewRateLimiter(client)
		logger.Info().Msg("task backlog: redis")
	} else {
		backlog = worker.NewMemoryBacklog()
		results = worker.NewMemoryResults()
		locker = worker.NewMemoryLocker()
		allower = api.NewLocalLimiter()
		logger.Warn().Msg("redis not configured; task backlog is in-process and lost on restart")
	}

	// ---- Persistence (optional) ----
	var (
		meetings repository.MeetingRepository
		txm      repository.TransactionManager
		purger   sched.ResultPurger
	)
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)

		var cipher pg.Cipher
		if key := cfg.Security.EncryptionKey; key != "" {
			enc, err := security.NewEncryptionService(key)
			if err != nil {
				return fmt.Errorf("encryption: %w", err)
			}
			cipher = enc
		} else {
			logger.Warn().Msg("security.encryption_key not set; transcripts are stored in plaintext")
		}
		repo := pg.NewMeetingRepo(pool, cipher)
		purger = repo
		meetings = repo
		if redisConn != nil {
			meetings = pg.NewMeetingRepoCacheDecorator(repo, redisConn, cfg.Worker.ResultTTL, logger)
		}
		txm = pg.NewTxManager(pool)
	}

	// ---- Engines ----
	gov := governor.NewGovernor(cfg.Governor, governor.NewProcSampler(), logger)
	limiter := governor.NewRateLimiter(cfg.Governor, logger)

	var engine adapter.Transcriber = transcriber.Noop{}
	if cfg.Transcriber.APIKey != "" || cfg.Transcriber.BaseURL != "" {
		whisper := transcriber.NewWhisper(cfg.Transcriber, logger)
		gov.RegisterModel("whisper", whisper)
		engine = whisper
	} else {
		logger.Warn().Msg("no transcription engine configured; using placeholder transcripts")
	}
	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpeg, cfg.Media.FFprobe, logger)

	gen, err := aiAdapters.NewGenerator(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}
	counter := aiAdapters.NewTokenCounter("", logger)

	store := progress.NewStore(cfg.Progress.TTL, logger)
	pipe := pipeline.New(ffmpeg, engine, store, gov, pipeline.OptionsFrom(cfg.Pipeline, cfg.Transcriber, cfg.Media), logger)
	summarizer := summarize.New(gen, counter, catalog, cfg.Summary, cfg.AI, logger)

	// ---- Scheduler + workers ----
	scheduler := worker.NewScheduler(backlog, results, locker, gov, store, cfg.Worker, logger).WithTracker(limiter)
	processor := worker.NewMeetingProcessor(pipe, summarizer, store, catalog, gov, logger)
	if meetings != nil {
		processor.WithPersistence(meetings, txm)
	}
	processor.Register(scheduler)

	jobs := usecase.NewJobUseCase(store, gov, limiter, scheduler, meetings, cfg.Pipeline.AllowedLanguages, logger)

	// ---- Background loops ----
	janitor := sched.NewJanitor(cfg.Progress.SweepInterval, store, jobs, cfg.HTTP.UploadDir, cfg.Progress.UploadMaxAge, logger)
	if purger != nil && cfg.Database.Retention > 0 {
		janitor.WithRetention(purger, cfg.Database.Retention)
	}
	go func() { _ = janitor.Run(ctx) }()
	go func() { _ = sched.NewMemoryMonitor(cfg.Governor.MonitorInterval, gov, logger).Run(ctx) }()

	scheduler.Start(ctx)

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.HTTP.AdminSecret, !cfg.Runtime.Dev, cfg.HTTP.AdminTokenTTL)
	server := web.NewServer(cfg.HTTP, jobs, allower, auth, logger)
	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(err).Msg("http shutdown")
	}
	scheduler.Stop()
	gov.Cleanup()
	logger.Info().Msg("bye")
	return nil
}
