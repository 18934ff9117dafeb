package governor

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/infra/metrics"
	"meeting-ai-pipeline/internal/infra/resilience"

	"github.com/rs/zerolog"
)

type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

const (
	outcomeWindow     = 10
	failureHorizon    = 5 * time.Minute
	maxLoadFactor     = 3.0
	minLoadFactor     = 0.5
	overloadThreshold = 2.0
	overloadRetry     = 300.0
	queueFullAt       = 10
	busyQueueAt       = 5
	minutesPerRequest = 2
)

// Rejection kinds.
const (
	RejectTooFrequent = "too_frequent"
	RejectOverload    = "server_overload"
	RejectQueueFull   = "queue_full"
	RejectTierLimit   = "tier_limit"
)

type QueueInfo struct {
	GlobalPosition       int    `json:"global_queue_position"`
	UserPosition         int    `json:"user_queue_position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	Status               string `json:"queue_status"`
	RecommendedAction    string `json:"recommended_action"`
}

// Decision is the outcome of a rate-limit check. A rejected decision always
// carries RetryAfter (seconds) and a human Message.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Error      string    `json:"error,omitempty"`
	Type       string    `json:"type,omitempty"`
	Message    string    `json:"message,omitempty"`
	RetryAfter float64   `json:"retry_after,omitempty"`
	Tier       Tier      `json:"user_tier,omitempty"`
	RateLimit  string    `json:"rate_limit,omitempty"`
	LoadFactor float64   `json:"vps_load_factor"`
	Queue      QueueInfo `json:"queue_info"`
}

type Recommendation struct {
	RetryCount  int       `json:"retry_count"`
	WaitSeconds float64   `json:"recommended_wait_seconds"`
	WaitMinutes int       `json:"recommended_wait_minutes"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Message     string    `json:"message"`
	Queue       QueueInfo `json:"queue_info"`
}

// RateLimiter is the per-user upload limiter with backlog feedback. All
// methods are pure bookkeeping; none of them wait.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	rates       map[Tier]int
	premium     map[string]struct{}
	lastRequest map[string]time.Time
	recent      map[string][]time.Time
	userQueue   map[string]int
	globalQueue int
	retries     map[string]int
	failures    []time.Time
	loadFactor  float64
	backoff     resilience.Policy
	now         func() time.Time
	log         *zerolog.Logger
}

func NewRateLimiter(cfg config.GovernorConfig, logger *zerolog.Logger) *RateLimiter {
	l := logger.With().Str("component", "RateLimiter").Logger()
	premium := make(map[string]struct{}, len(cfg.PremiumUsers))
	for _, u := range cfg.PremiumUsers {
		premium[u] = struct{}{}
	}
	return &RateLimiter{
		minInterval: cfg.MinRequestInterval,
		rates:       map[Tier]int{TierBasic: cfg.BasicRate, TierPremium: cfg.PremiumRate},
		premium:     premium,
		lastRequest: make(map[string]time.Time),
		recent:      make(map[string][]time.Time),
		userQueue:   make(map[string]int),
		retries:     make(map[string]int),
		loadFactor:  1.0,
		backoff:     resilience.Policy{MaxRetries: math.MaxInt32, BaseDelay: 30 * time.Second, MaxDelay: 900 * time.Second},
		now:         time.Now,
		log:         &l,
	}
}

func (r *RateLimiter) tierOf(user string) Tier {
	if _, ok := r.premium[user]; ok {
		return TierPremium
	}
	return TierBasic
}

func (r *RateLimiter) adjustedRateLocked(t Tier) int {
	base := r.rates[t]
	if base <= 0 {
		base = r.rates[TierBasic]
	}
	return max(1, int(float64(base)/r.loadFactor))
}

// Check decides whether user may submit now without recording anything.
func (r *RateLimiter) Check(user string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(user)
}

// Reserve checks and, when allowed, records the submission in one step, so
// concurrent uploads from the same user cannot both pass. A reservation whose
// job never reaches the backlog is undone with Finished(user, false).
func (r *RateLimiter) Reserve(user string) (Decision, QueueInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.checkLocked(user)
	if !d.Allowed {
		return d, r.positionLocked(user)
	}
	return d, r.enqueueLocked(user)
}

func (r *RateLimiter) checkLocked(user string) Decision {
	now := r.now()
	tier := r.tierOf(user)

	if last, ok := r.lastRequest[user]; ok {
		if elapsed := now.Sub(last); elapsed < r.minInterval {
			remaining := (r.minInterval - elapsed).Seconds()
			return r.reject(Decision{
				Error:      "rate_limited",
				Type:       RejectTooFrequent,
				Message:    fmt.Sprintf("Please wait %.1f more seconds before next upload", remaining),
				RetryAfter: remaining,
			}, user)
		}
	}

	rate := r.adjustedRateLocked(tier)
	queue := r.positionLocked(user)

	if r.loadFactor > overloadThreshold {
		return r.reject(Decision{
			Error:      "server_overloaded",
			Type:       RejectOverload,
			Message:    "Server is currently overloaded. Please try again later.",
			RetryAfter: overloadRetry,
			LoadFactor: r.loadFactor,
			Queue:      queue,
		}, user)
	}

	if queue.GlobalPosition > queueFullAt {
		backoff := math.Max(60, math.Min(600, 60*float64(r.retries[user])))
		return r.reject(Decision{
			Error:      "queue_full",
			Type:       RejectQueueFull,
			Message:    fmt.Sprintf("Processing queue is full. Please try again in %d minutes.", int(backoff)/60),
			RetryAfter: backoff,
			Queue:      queue,
		}, user)
	}

	window := r.pruneRecentLocked(user, now)
	if len(window) >= rate {
		retryAfter := time.Minute - now.Sub(window[0])
		return r.reject(Decision{
			Error:      "rate_limited",
			Type:       RejectTierLimit,
			Message:    fmt.Sprintf("Upload limit of %d per minute reached.", rate),
			RetryAfter: retryAfter.Seconds(),
			Tier:       tier,
			RateLimit:  fmt.Sprintf("%d/minute", rate),
			Queue:      queue,
		}, user)
	}

	return Decision{
		Allowed:    true,
		Tier:       tier,
		RateLimit:  fmt.Sprintf("%d/minute", rate),
		LoadFactor: r.loadFactor,
		Queue:      queue,
	}
}

func (r *RateLimiter) reject(d Decision, user string) Decision {
	d.Allowed = false
	if d.LoadFactor == 0 {
		d.LoadFactor = r.loadFactor
	}
	metrics.IncAdmissionRejection(d.Type)
	r.log.Info().Str("user_id", user).Str("type", d.Type).Float64("retry_after", d.RetryAfter).Msg("upload rate limited")
	return d
}

func (r *RateLimiter) pruneRecentLocked(user string, now time.Time) []time.Time {
	ts := r.recent[user]
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= time.Minute {
		i++
	}
	ts = ts[i:]
	if len(ts) == 0 {
		delete(r.recent, user)
		return nil
	}
	r.recent[user] = ts
	return ts
}

// Enqueued records an accepted submission and returns the caller's position.
func (r *RateLimiter) Enqueued(user string) QueueInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueLocked(user)
}

func (r *RateLimiter) enqueueLocked(user string) QueueInfo {
	now := r.now()
	r.globalQueue++
	r.userQueue[user]++
	r.lastRequest[user] = now
	r.recent[user] = append(r.pruneRecentLocked(user, now), now)

	info := r.positionLocked(user)
	r.log.Info().Str("user_id", user).Int("position", info.GlobalPosition).Msg("added to queue")
	return info
}

// Finished removes one entry of user from the backlog estimate and folds
// the outcome into the retry count and load factor.
func (r *RateLimiter) Finished(user string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dequeueLocked(user)
	if success {
		delete(r.retries, user)
	} else {
		r.retries[user]++
	}
	r.updateLoadLocked(success)
	r.log.Info().Str("user_id", user).Bool("success", success).Msg("removed from queue")
}

// Released removes one entry of user from the backlog estimate without
// counting an outcome. Cancelled and dropped jobs end this way.
func (r *RateLimiter) Released(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dequeueLocked(user)
	r.log.Info().Str("user_id", user).Msg("released from queue")
}

func (r *RateLimiter) dequeueLocked(user string) {
	if r.userQueue[user] > 0 {
		r.userQueue[user]--
		r.globalQueue--
	}
	if r.userQueue[user] == 0 {
		delete(r.userQueue, user)
	}
}

func (r *RateLimiter) updateLoadLocked(success bool) {
	now := r.now()
	if !success {
		r.failures = append(r.failures, now)
		if len(r.failures) > outcomeWindow {
			r.failures = r.failures[len(r.failures)-outcomeWindow:]
		}
	}
	n := 0
	for _, t := range r.failures {
		if now.Sub(t) < failureHorizon {
			n++
		}
	}
	rate := float64(n) / outcomeWindow

	switch {
	case rate > 0.5:
		r.loadFactor = math.Min(maxLoadFactor, r.loadFactor+0.2)
	case rate < 0.1:
		r.loadFactor = math.Max(minLoadFactor, r.loadFactor-0.1)
	}
	r.log.Debug().Float64("load_factor", r.loadFactor).Float64("failure_rate", rate).Msg("load factor updated")
}

// Position reports the caller's current place in the logical backlog.
func (r *RateLimiter) Position(user string) QueueInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked(user)
}

func (r *RateLimiter) positionLocked(user string) QueueInfo {
	global := r.globalQueue
	status := "normal"
	if global > busyQueueAt {
		status = "busy"
	}
	return QueueInfo{
		GlobalPosition:       global,
		UserPosition:         r.userQueue[user],
		EstimatedWaitMinutes: global * minutesPerRequest,
		Status:               status,
		RecommendedAction:    recommendedAction(global, r.retries[user]),
	}
}

func recommendedAction(position, retries int) string {
	switch {
	case position == 0:
		return "proceed"
	case position <= 2:
		return "wait_short"
	case position <= busyQueueAt:
		return fmt.Sprintf("wait_long_retry_in_%d_seconds", min(300, 30<<min(retries, 16)))
	default:
		return fmt.Sprintf("server_busy_retry_in_%d_seconds", min(900, 60<<min(retries, 16)))
	}
}

// Recommend computes the backoff a client should observe before retrying.
func (r *RateLimiter) Recommend(user, lastErr string) Recommendation {
	r.mu.Lock()
	retries := r.retries[user]
	now := r.now()
	r.mu.Unlock()

	wait := r.backoff.Delay(retries).Seconds()
	lower := strings.ToLower(lastErr)
	switch {
	case strings.Contains(lower, "memory"):
		wait *= 2
	case strings.Contains(lower, "server_overload"), strings.Contains(lower, "overload"):
		wait *= 1.5
	}

	return Recommendation{
		RetryCount:  retries,
		WaitSeconds: wait,
		WaitMinutes: int(wait) / 60,
		NextRetryAt: now.Add(time.Duration(wait * float64(time.Second))),
		Message:     retryMessage(int(wait)/60, retries),
		Queue:       r.Position(user),
	}
}

func retryMessage(minutes, retries int) string {
	plural := "s"
	if minutes == 1 {
		plural = ""
	}
	switch {
	case retries == 0:
		return "You can try again immediately."
	case retries <= 2:
		return fmt.Sprintf("Please wait %d minute%s before retrying.", minutes, plural)
	default:
		return fmt.Sprintf("Multiple attempts detected. Please wait %d minute%s to help reduce server load.", minutes, plural)
	}
}

// LoadFactor reports the current load multiplier (1.0 is normal).
func (r *RateLimiter) LoadFactor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadFactor
}
