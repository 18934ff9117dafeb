//go:build integration

package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/infra/security"

	"github.com/jackc/pgx/v4"
)

func sampleResult(jobID string) *model.JobResult {
	return &model.JobResult{
		JobID:      jobID,
		Language:   "en",
		Duration:   1800,
		Transcript: "Speaker 1: we ship on friday",
		Segments:   []model.Segment{{Start: 0, End: 3.5, Text: "we ship on friday", Speaker: "Speaker 1"}},
		Summary: &model.MeetingSummary{
			Overview:  "Release planning.",
			Decisions: []string{"Ship on Friday"},
		},
		Markdown: "# Meeting Summary\n",
	}
}

func TestMeetingRepo_Integration(t *testing.T) {
	ctx := context.Background()
	cipher, err := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("should round-trip an encrypted result", func(t *testing.T) {
		defer cleanup(t)
		repo := NewMeetingRepo(testPool, cipher)

		if err := repo.SaveResult(ctx, repository.NoTX, "alice", sampleResult("job-1")); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
		got, err := repo.FindResult(ctx, repository.NoTX, "job-1")
		if err != nil {
			t.Fatalf("FindResult: %v", err)
		}
		if got.Transcript != "Speaker 1: we ship on friday" || len(got.Segments) != 1 || got.Summary.Decisions[0] != "Ship on Friday" {
			t.Errorf("unexpected result: %+v", got)
		}

		var raw string
		testPool.QueryRow(ctx, `SELECT content FROM meeting_results WHERE job_id = 'job-1'`).Scan(&raw)
		if strings.Contains(raw, "friday") {
			t.Error("transcript stored in plaintext")
		}
	})

	t.Run("should store plaintext without a cipher and upsert", func(t *testing.T) {
		defer cleanup(t)
		repo := NewMeetingRepo(testPool, nil)
		res := sampleResult("job-2")
		res.Summary = nil
		repo.SaveResult(ctx, repository.NoTX, "bob", res)
		res.Markdown = "# Updated\n"

		if err := repo.SaveResult(ctx, repository.NoTX, "bob", res); err != nil {
			t.Fatalf("second SaveResult: %v", err)
		}
		got, err := repo.FindResult(ctx, repository.NoTX, "job-2")
		if err != nil || got.Markdown != "# Updated\n" || got.Summary != nil {
			t.Fatalf("FindResult = %+v, %v", got, err)
		}
	})

	t.Run("should report not found", func(t *testing.T) {
		repo := NewMeetingRepo(testPool, nil)
		if _, err := repo.FindResult(ctx, repository.NoTX, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should roll back with the transaction", func(t *testing.T) {
		defer cleanup(t)
		repo := NewMeetingRepo(testPool, nil)
		tm := NewTxManager(testPool)
		boom := errors.New("boom")

		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.SaveResult(ctx, tx, "alice", sampleResult("job-3")); err != nil {
				return err
			}
			return boom
		})

		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := repo.FindResult(ctx, repository.NoTX, "job-3"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("rolled back row is visible: %v", err)
		}
	})

	t.Run("should delete old results", func(t *testing.T) {
		defer cleanup(t)
		repo := NewMeetingRepo(testPool, nil)
		repo.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
		repo.SaveResult(ctx, repository.NoTX, "alice", sampleResult("old"))
		repo.now = time.Now
		repo.SaveResult(ctx, repository.NoTX, "alice", sampleResult("new"))

		n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))

		if err != nil || n != 1 {
			t.Fatalf("DeleteOlderThan = %d, %v", n, err)
		}
	})
}
