package progress

import "time"

const (
	speedAlpha = 0.3
	minSpeed   = 1e-6
)

// etaEstimator smooths throughput (units per wall-clock second since start)
// with an exponentially weighted moving average.
type etaEstimator struct {
	speed  float64
	lastAt time.Time
}

// observe folds one sample in and returns the remaining seconds, or nil when
// there is not enough signal to estimate.
func (e *etaEstimator) observe(current, total int64, startedAt *time.Time, now time.Time) *float64 {
	if startedAt == nil || total <= 0 || current <= 0 {
		return nil
	}
	elapsed := now.Sub(*startedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	sample := float64(current) / elapsed

	switch {
	case e.lastAt.IsZero():
		e.speed = sample
	case now.After(e.lastAt):
		e.speed = speedAlpha*sample + (1-speedAlpha)*e.speed
	}
	e.lastAt = now

	if e.speed <= minSpeed {
		return nil
	}
	eta := float64(total-current) / e.speed
	if eta < 0 {
		eta = 0
	}
	return &eta
}
