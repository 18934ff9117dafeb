package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/infra/metrics"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Connect opens a pool and waits until the database answers a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err = pgxpool.ConnectConfig(cctx, pcfg)
		if err == nil {
			err = pool.Ping(cctx)
			if err != nil {
				pool.Close()
			}
		}
		cancel()
		if err == nil {
			return pool, nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("database not ready")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

// ReportPoolStats publishes pool gauges until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		st := pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
