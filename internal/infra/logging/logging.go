package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"meeting-ai-pipeline/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger. Levels follow zerolog names; an unknown
// level falls back to info. Format is "json" (default) or "console"; dev
// always gets console output and is never sampled.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return newLogger(os.Stdout, cfg, dev)
}

func newLogger(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if dev || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	base := zerolog.New(w).With().Timestamp().Str("service", "meeting-ai-pipeline").Logger()
	log.Logger = base

	if cfg.Sampling && !dev {
		// Bursts of 100 per second pass untouched, then 1 in 50.
		sampled := base.Sample(&zerolog.BurstSampler{
			Burst:       100,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: 50},
		})
		return &sampled
	}
	return &base
}

// field is a request-scoped value that With copies onto log lines.
type field string

const (
	fieldTrace field = "trace_id"
	fieldUser  field = "user_id"
	fieldJob   field = "job_id"
	fieldTask  field = "task_id"
)

// Order of appearance in log output.
var fields = [...]field{fieldTrace, fieldUser, fieldJob, fieldTask}

func put(ctx context.Context, f field, v string) context.Context {
	return context.WithValue(ctx, f, v)
}

func get(ctx context.Context, f field) (string, bool) {
	v, ok := ctx.Value(f).(string)
	return v, ok && v != ""
}

// With returns a child of base carrying whichever of trace_id, user_id,
// job_id and task_id are set on ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	c := base.With()
	for _, f := range fields {
		if v, ok := get(ctx, f); ok {
			c = c.Str(string(f), v)
		}
	}
	l := c.Logger()
	return &l
}

func WithTraceID(ctx context.Context, id string) context.Context { return put(ctx, fieldTrace, id) }
func WithUserID(ctx context.Context, id string) context.Context  { return put(ctx, fieldUser, id) }
func WithJobID(ctx context.Context, id string) context.Context   { return put(ctx, fieldJob, id) }
func WithTaskID(ctx context.Context, id string) context.Context  { return put(ctx, fieldTask, id) }

// UserIDFrom returns the user id stored by WithUserID, if any.
func UserIDFrom(ctx context.Context) (string, bool) { return get(ctx, fieldUser) }

// Span logs a debug line when the returned func runs, with the stage name
// and how long it took.
//
//	defer logging.Span(log, "transcribe")()
func Span(logger *zerolog.Logger, stage string) func() {
	start := time.Now()
	return func() {
		logger.Debug().Str("stage", stage).Dur("took", time.Since(start)).Msg("stage done")
	}
}
