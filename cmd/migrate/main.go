package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"meeting-ai-pipeline/internal/config"
	pg "meeting-ai-pipeline/internal/infra/db/postgres"
	"meeting-ai-pipeline/internal/infra/logging"
)

// migrate applies the schema file to the configured database. The schema
// uses IF NOT EXISTS throughout so reruns are harmless.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schema := flag.String("schema", "deploy/postgres/init.sql", "SQL file to apply")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, false)
	if cfg.Database.URL == "" {
		logger.Fatal().Msg("database.url is not set")
	}

	sql, err := os.ReadFile(*schema)
	if err != nil {
		logger.Fatal().Err(err).Msg("read schema")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		logger.Fatal().Err(err).Str("schema", *schema).Msg("apply schema")
	}
	logger.Info().Str("schema", *schema).Msg("schema applied")
}
