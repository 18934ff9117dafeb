package repository

import (
	"context"

	"meeting-ai-pipeline/internal/domain/model"
)

// MeetingRepository is the persistence collaborator for finished jobs.
type MeetingRepository interface {
	SaveResult(ctx context.Context, tx Tx, userID string, result *model.JobResult) error
	FindResult(ctx context.Context, tx Tx, jobID string) (*model.JobResult, error)
}
