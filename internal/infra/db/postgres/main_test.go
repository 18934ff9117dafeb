//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meeting-ai-pipeline/internal/config"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

var testPool *pgxpool.Pool

// schemaPath locates deploy/postgres/init.sql from the module root.
func schemaPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "deploy", "postgres", "init.sql"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above working directory")
		}
		dir = parent
	}
}

// startPostgres runs a throwaway container on a random host port and
// returns its DSN and a stop func.
func startPostgres() (string, func(), error) {
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-e", "POSTGRES_DB=meetings_test",
		"-e", "POSTGRES_USER=meetings",
		"-e", "POSTGRES_PASSWORD=meetings",
		"-p", "127.0.0.1::5432",
		"postgres:14",
	).Output()
	if err != nil {
		return "", nil, fmt.Errorf("docker run (is Docker running?): %w", err)
	}
	id := strings.TrimSpace(string(out))
	stop := func() { _ = exec.Command("docker", "stop", id).Run() }

	// Prints host:port, e.g. 127.0.0.1:49153.
	port, err := exec.Command("docker", "port", id, "5432/tcp").Output()
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("docker port: %w", err)
	}
	addr := strings.TrimSpace(strings.SplitN(string(port), "\n", 2)[0])
	return fmt.Sprintf("postgres://meetings:meetings@%s/meetings_test?sslmode=disable", addr), stop, nil
}

func TestMain(m *testing.M) {
	logger := zerolog.New(io.Discard)
	stop := func() {}

	// TEST_DATABASE_URL points the suite at an existing database instead.
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		var err error
		if dsn, stop, err = startPostgres(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	code, err := func() (int, error) {
		defer cancel()
		var err error
		// Connect retries while the container boots.
		testPool, err = Connect(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 4}, &logger)
		if err != nil {
			return 1, fmt.Errorf("connect: %w", err)
		}
		defer testPool.Close()

		path, err := schemaPath()
		if err != nil {
			return 1, err
		}
		schema, err := os.ReadFile(path)
		if err != nil {
			return 1, fmt.Errorf("read schema: %w", err)
		}
		if _, err := testPool.Exec(ctx, string(schema)); err != nil {
			return 1, fmt.Errorf("apply schema: %w", err)
		}
		return m.Run(), nil
	}()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE meeting_results`); err != nil {
		t.Fatalf("truncate meeting_results: %v", err)
	}
}
