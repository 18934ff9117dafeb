package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	"meeting-ai-pipeline/internal/infra/metrics"
	red "meeting-ai-pipeline/internal/infra/redis"

	"github.com/rs/zerolog"
)

var _ repository.MeetingRepository = (*meetingRepoCacheDecorator)(nil)

// meetingRepoCacheDecorator is a read-through Redis cache in front of the
// result store. Entries expire like task results do.
type meetingRepoCacheDecorator struct {
	inner repository.MeetingRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewMeetingRepoCacheDecorator(inner repository.MeetingRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.MeetingRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "MeetingCache").Logger()
	return &meetingRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func meetingKey(jobID string) string { return "meeting:result:" + jobID }

func (d *meetingRepoCacheDecorator) SaveResult(ctx context.Context, tx repository.Tx, userID string, res *model.JobResult) error {
	_ = d.cache.Del(ctx, meetingKey(res.JobID))
	return d.inner.SaveResult(ctx, tx, userID, res)
}

func (d *meetingRepoCacheDecorator) FindResult(ctx context.Context, tx repository.Tx, jobID string) (*model.JobResult, error) {
	key := meetingKey(jobID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var res model.JobResult
		if json.Unmarshal([]byte(val), &res) == nil {
			metrics.IncCacheRequest("meeting", "hit")
			return &res, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("meeting", "miss")
	res, err := d.inner.FindResult(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return res, nil
}
