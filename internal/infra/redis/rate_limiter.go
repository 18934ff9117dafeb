package redis

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter counts hits per key in fixed windows. Each window gets its
// own key, so a lost EXPIRE can never pin a caller at the limit.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	bucket := r.now().UnixNano() / int64(window)
	k := key + ":" + strconv.FormatInt(bucket, 10)

	count, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window); err != nil {
			return count <= int64(limit), err
		}
	}
	return count <= int64(limit), nil
}
