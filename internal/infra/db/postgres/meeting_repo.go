package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.MeetingRepository = (*meetingRepo)(nil)

// Cipher seals transcript content at rest, bound to its job id.
// security.EncryptionService satisfies it.
type Cipher interface {
	Seal(jobID, plaintext string) (string, error)
	Open(jobID, sealed string) (string, error)
}

type meetingRepo struct {
	pool   *pgxpool.Pool
	cipher Cipher
	now    func() time.Time
}

// NewMeetingRepo stores results in meeting_results. A nil cipher keeps the
// transcript in plaintext.
func NewMeetingRepo(pool *pgxpool.Pool, cipher Cipher) *meetingRepo {
	return &meetingRepo{pool: pool, cipher: cipher, now: time.Now}
}

// content is the private part of a result, stored as one sealed blob.
type content struct {
	Transcript string          `json:"transcript"`
	Segments   []model.Segment `json:"segments"`
}

func (r *meetingRepo) SaveResult(ctx context.Context, tx repository.Tx, userID string, res *model.JobResult) error {
	if res == nil || res.JobID == "" {
		return domain.ErrInvalidArgument
	}
	body, err := json.Marshal(content{Transcript: res.Transcript, Segments: res.Segments})
	if err != nil {
		return err
	}
	sealed := string(body)
	encrypted := false
	if r.cipher != nil {
		if sealed, err = r.cipher.Seal(res.JobID, sealed); err != nil {
			return fmt.Errorf("encrypt transcript: %w", err)
		}
		encrypted = true
	}
	var summary []byte
	if res.Summary != nil {
		if summary, err = json.Marshal(res.Summary); err != nil {
			return err
		}
	}

	const q = `
INSERT INTO meeting_results (job_id, user_id, language, duration, content, encrypted, summary, markdown, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_id) DO UPDATE SET
  language = EXCLUDED.language,
  duration = EXCLUDED.duration,
  content = EXCLUDED.content,
  encrypted = EXCLUDED.encrypted,
  summary = EXCLUDED.summary,
  markdown = EXCLUDED.markdown;`

	ex, err := on(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		res.JobID, userID, res.Language, res.Duration, sealed, encrypted, summary, res.Markdown, r.now())
	return err
}

func (r *meetingRepo) FindResult(ctx context.Context, tx repository.Tx, jobID string) (*model.JobResult, error) {
	const q = `
SELECT job_id, language, duration, content, encrypted, summary, markdown
FROM meeting_results
WHERE job_id = $1;`

	ex, err := on(r.pool, tx)
	if err != nil {
		return nil, err
	}
	row := ex.QueryRow(ctx, q, jobID)
	var (
		res       model.JobResult
		sealed    string
		encrypted bool
		summary   []byte
	)
	if err := row.Scan(&res.JobID, &res.Language, &res.Duration, &sealed, &encrypted, &summary, &res.Markdown); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}

	if encrypted {
		if r.cipher == nil {
			return nil, fmt.Errorf("result %s is encrypted but no key is configured", jobID)
		}
		if sealed, err = r.cipher.Open(jobID, sealed); err != nil {
			return nil, fmt.Errorf("decrypt transcript: %w", err)
		}
	}
	var c content
	if err := json.Unmarshal([]byte(sealed), &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	res.Transcript, res.Segments = c.Transcript, c.Segments

	if len(summary) > 0 {
		res.Summary = &model.MeetingSummary{}
		if err := json.Unmarshal(summary, res.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return &res, nil
}

// DeleteOlderThan removes results created before cutoff.
func (r *meetingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM meeting_results WHERE created_at < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
