// Package sched holds the periodic maintenance loops.
package sched

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type Sweeper interface {
	Sweep() int
}

type Pruner interface {
	Prune() int
}

type ResultPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor evicts expired jobs, forgets their task ids, removes abandoned
// uploads and applies result retention.
type Janitor struct {
	interval  time.Duration
	jobs      Sweeper
	tasks     Pruner
	uploadDir string
	maxAge    time.Duration
	results   ResultPurger
	retention time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

func NewJanitor(interval time.Duration, jobs Sweeper, tasks Pruner, uploadDir string, maxAge time.Duration, logger *zerolog.Logger) *Janitor {
	l := logger.With().Str("component", "Janitor").Logger()
	return &Janitor{
		interval:  interval,
		jobs:      jobs,
		tasks:     tasks,
		uploadDir: uploadDir,
		maxAge:    maxAge,
		now:       time.Now,
		log:       &l,
	}
}

// WithRetention enables deletion of stored results older than d.
func (j *Janitor) WithRetention(results ResultPurger, d time.Duration) *Janitor {
	j.results = results
	j.retention = d
	return j
}

func (j *Janitor) Run(ctx context.Context) error {
	j.log.Info().Dur("interval", j.interval).Msg("Starting janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("Stopping janitor")
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *Janitor) RunOnce(ctx context.Context) {
	swept := j.jobs.Sweep()
	pruned := 0
	if j.tasks != nil {
		pruned = j.tasks.Prune()
	}
	removed := j.removeStaleUploads()

	var purged int64
	if j.results != nil && j.retention > 0 {
		n, err := j.results.DeleteOlderThan(ctx, j.now().Add(-j.retention))
		if err != nil {
			j.log.Error().Err(err).Msg("result retention failed")
		}
		purged = n
	}

	if swept+pruned+removed > 0 || purged > 0 {
		j.log.Info().
			Int("jobs", swept).
			Int("task_ids", pruned).
			Int("uploads", removed).
			Int64("results", purged).
			Msg("janitor pass")
	}
}

// removeStaleUploads deletes regular files in the upload dir untouched for
// longer than maxAge. Live jobs never hold a file that long.
func (j *Janitor) removeStaleUploads() int {
	if j.uploadDir == "" || j.maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(j.uploadDir)
	if err != nil {
		j.log.Warn().Err(err).Str("dir", j.uploadDir).Msg("cannot list upload dir")
		return 0
	}
	cutoff := j.now().Add(-j.maxAge)
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.uploadDir, e.Name())); err == nil {
			n++
		}
	}
	return n
}
