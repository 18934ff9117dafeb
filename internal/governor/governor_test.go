//go:build !integration

package governor

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"

	"github.com/rs/zerolog"
)

// --- Fakes ---

type fakeSampler struct {
	mu       sync.Mutex
	readings []float64 // consumed in order; the last one repeats
}

func (f *fakeSampler) Sample() (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.readings[0]
	if len(f.readings) > 1 {
		f.readings = f.readings[1:]
	}
	return Usage{RSSMB: v}, nil
}

type fakeModel struct {
	releases int
	err      error
}

func (m *fakeModel) Release() error {
	m.releases++
	return m.err
}

func testGovernorConfig() config.GovernorConfig {
	return config.GovernorConfig{
		MemoryWarningMB:    12000,
		MemoryCriticalMB:   14000,
		MaxFileMB:          100,
		MinRequestInterval: 10 * time.Second,
		BasicRate:          2,
		PremiumRate:        4,
		PremiumUsers:       []string{"vip"},
	}
}

func newTestGovernor(readings ...float64) (*Governor, *int) {
	log := zerolog.New(io.Discard)
	g := NewGovernor(testGovernorConfig(), &fakeSampler{readings: readings}, &log)
	collected := 0
	g.collect = func() { collected++ }
	return g, &collected
}

const mb = 1024 * 1024

// --- Memory governor ---

func TestValidateFileSize(t *testing.T) {
	t.Run("should reject files above the absolute cap", func(t *testing.T) {
		g, _ := newTestGovernor(100)
		if err := g.ValidateFileSize(101 * mb); !errors.Is(err, domain.ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("should reject files larger than the headroom under warning", func(t *testing.T) {
		g, _ := newTestGovernor(11950)
		if err := g.ValidateFileSize(60 * mb); !errors.Is(err, domain.ErrInsufficientMemory) {
			t.Fatalf("expected ErrInsufficientMemory, got %v", err)
		}
	})

	t.Run("should reject everything above critical", func(t *testing.T) {
		g, _ := newTestGovernor(14500)
		err := g.ValidateFileSize(1 * mb)
		if !errors.Is(err, domain.ErrMemoryCritical) {
			t.Fatalf("expected ErrMemoryCritical, got %v", err)
		}
		if domain.Classify(err) != domain.KindAdmission {
			t.Errorf("critical memory must classify as admission, got %s", domain.Classify(err))
		}
	})

	t.Run("should accept a file that fits", func(t *testing.T) {
		g, _ := newTestGovernor(2000)
		if err := g.ValidateFileSize(50 * mb); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCleanupReleasesModels(t *testing.T) {
	g, collected := newTestGovernor(13000, 9000)
	m1, m2 := &fakeModel{}, &fakeModel{err: errors.New("busy")}
	g.RegisterModel("whisper", m1)
	g.RegisterModel("other", m2)

	released := g.Cleanup()

	if released != 1 || m1.releases != 1 || m2.releases != 1 {
		t.Errorf("released=%d m1=%d m2=%d", released, m1.releases, m2.releases)
	}
	if *collected != 1 {
		t.Errorf("expected one forced collection, got %d", *collected)
	}
	// Idempotent: a second call is harmless.
	g.Cleanup()
	if m1.releases != 2 {
		t.Errorf("expected second release call, got %d", m1.releases)
	}
	st := g.Snapshot()
	if st.CleanupCount != 2 || st.LastCleanupAt == nil || len(st.Models) != 2 || st.Models[0] != "other" {
		t.Errorf("unexpected snapshot: %+v", st)
	}
}

func TestAdmit(t *testing.T) {
	t.Run("should admit under warning without cleanup", func(t *testing.T) {
		g, collected := newTestGovernor(5000)
		if err := g.Admit(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *collected != 0 {
			t.Error("cleanup must not run under normal pressure")
		}
	})

	t.Run("should admit after cleanup brings memory down", func(t *testing.T) {
		// admit sample, cleanup before, cleanup after, admit re-sample
		g, collected := newTestGovernor(14500, 14500, 9000, 9000)
		if err := g.Admit(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *collected != 1 {
			t.Errorf("expected cleanup, got %d collections", *collected)
		}
	})

	t.Run("should defer while memory stays critical", func(t *testing.T) {
		g, _ := newTestGovernor(14500)
		err := g.Admit()
		if !errors.Is(err, domain.ErrMemoryPressure) {
			t.Fatalf("expected ErrMemoryPressure, got %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("memory pressure must be retryable")
		}
	})
}

func TestMonitor(t *testing.T) {
	g, collected := newTestGovernor(12500)
	if p := g.Monitor(); p != PressureWarning {
		t.Errorf("pressure = %s, want warning", p)
	}
	if *collected != 1 {
		t.Error("monitor should clean up above warning")
	}

	g2, collected2 := newTestGovernor(100)
	if p := g2.Monitor(); p != PressureNormal || *collected2 != 0 {
		t.Errorf("pressure = %s collections = %d", p, *collected2)
	}
}

// --- Rate limiter ---

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*RateLimiter, *clock) {
	log := zerolog.New(io.Discard)
	c := &clock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(testGovernorConfig(), &log)
	r.now = c.now
	return r, c
}

func TestRateLimiter_MinInterval(t *testing.T) {
	r, c := newTestLimiter()

	if d := r.Check("alice"); !d.Allowed || d.Tier != TierBasic || d.RateLimit != "2/minute" {
		t.Fatalf("first request should pass: %+v", d)
	}
	r.Enqueued("alice")

	c.advance(4 * time.Second)
	d := r.Check("alice")
	if d.Allowed || d.Type != RejectTooFrequent {
		t.Fatalf("expected too_frequent rejection, got %+v", d)
	}
	if d.RetryAfter != 6 {
		t.Errorf("retry_after = %v, want 6", d.RetryAfter)
	}
	if d.Message != "Please wait 6.0 more seconds before next upload" {
		t.Errorf("message = %q", d.Message)
	}

	if d := r.Check("bob"); !d.Allowed {
		t.Error("other users must not be affected")
	}
}

func TestRateLimiter_TierLimit(t *testing.T) {
	r, c := newTestLimiter()

	r.Enqueued("alice")
	c.advance(11 * time.Second)
	if d := r.Check("alice"); !d.Allowed {
		t.Fatalf("second upload within a minute should pass: %+v", d)
	}
	r.Enqueued("alice")
	c.advance(11 * time.Second)

	d := r.Check("alice")
	if d.Allowed || d.Type != RejectTierLimit {
		t.Fatalf("expected tier limit, got %+v", d)
	}
	if d.RetryAfter != 38 {
		t.Errorf("retry_after = %v, want 38", d.RetryAfter)
	}

	if d := r.Check("vip"); !d.Allowed || d.Tier != TierPremium || d.RateLimit != "4/minute" {
		t.Errorf("premium user: %+v", d)
	}
}

func TestRateLimiter_LoadFactor(t *testing.T) {
	r, _ := newTestLimiter()

	for i := 0; i < 11; i++ {
		r.Enqueued("u")
		r.Finished("u", false)
	}
	if lf := r.LoadFactor(); lf <= 2.0 {
		t.Fatalf("load factor = %v, expected overload", lf)
	}
	d := r.Check("someone")
	if d.Allowed || d.Type != RejectOverload || d.RetryAfter != 300 {
		t.Fatalf("expected overload rejection, got %+v", d)
	}

	// The limiter never goes below the floor.
	r2, _ := newTestLimiter()
	for i := 0; i < 20; i++ {
		r2.Finished("u", true)
	}
	if lf := r2.LoadFactor(); lf < 0.5 || lf > 0.5+1e-9 {
		t.Errorf("load factor = %v, want floor 0.5", lf)
	}
	if d := r2.Check("u"); d.RateLimit != "4/minute" {
		t.Errorf("low load should raise the basic rate, got %s", d.RateLimit)
	}
}

func TestRateLimiter_QueueFull(t *testing.T) {
	r, _ := newTestLimiter()
	for i := 0; i < 11; i++ {
		r.Enqueued(string(rune('a' + i)))
	}
	d := r.Check("late")
	if d.Allowed || d.Type != RejectQueueFull {
		t.Fatalf("expected queue_full, got %+v", d)
	}
	if d.Queue.Status != "busy" || d.Queue.EstimatedWaitMinutes != 22 {
		t.Errorf("unexpected queue info: %+v", d.Queue)
	}
	// No earlier failures still yields a usable wait.
	if d.RetryAfter != 60 {
		t.Errorf("retry_after = %v, want 60", d.RetryAfter)
	}
}

func TestRateLimiter_ReserveAdmitsOneConcurrentUpload(t *testing.T) {
	r, _ := newTestLimiter()

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected []Decision
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, _ := r.Reserve("alice")
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed {
				accepted++
			} else {
				rejected = append(rejected, d)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d concurrent uploads, want 1", accepted)
	}
	for _, d := range rejected {
		if d.Type != RejectTooFrequent || d.RetryAfter <= 0 {
			t.Errorf("unexpected rejection: %+v", d)
		}
	}
	if q := r.Position("alice"); q.UserPosition != 1 || q.GlobalPosition != 1 {
		t.Errorf("queue = %+v, want exactly one entry", q)
	}
}

func TestRateLimiter_ReserveRecordsOnlyAccepted(t *testing.T) {
	r, c := newTestLimiter()

	d, q := r.Reserve("alice")
	if !d.Allowed || q.UserPosition != 1 {
		t.Fatalf("first reserve: %+v %+v", d, q)
	}
	c.advance(time.Second)
	if d, q := r.Reserve("alice"); d.Allowed || q.UserPosition != 1 {
		t.Fatalf("rejected reserve must not queue: %+v %+v", d, q)
	}
	c.advance(10 * time.Second)
	if d, q := r.Reserve("alice"); !d.Allowed || q.UserPosition != 2 {
		t.Errorf("reserve after the interval: %+v %+v", d, q)
	}
}

func TestRateLimiter_ReleasedCountsNoOutcome(t *testing.T) {
	r, _ := newTestLimiter()

	r.Enqueued("u")
	r.Finished("u", false)
	r.Enqueued("u")
	before := r.LoadFactor()

	r.Released("u")

	if q := r.Position("u"); q.UserPosition != 0 || q.GlobalPosition != 0 {
		t.Errorf("queue = %+v, want empty", q)
	}
	if rec := r.Recommend("u", ""); rec.RetryCount != 1 {
		t.Errorf("retries = %d, want the earlier failure only", rec.RetryCount)
	}
	if r.LoadFactor() != before {
		t.Errorf("load factor moved from %v to %v", before, r.LoadFactor())
	}

	// Never below zero.
	r.Released("u")
	if q := r.Position("u"); q.GlobalPosition != 0 {
		t.Errorf("global = %d after extra release", q.GlobalPosition)
	}
}

func TestRecommendedAction(t *testing.T) {
	cases := []struct {
		pos, retries int
		want         string
	}{
		{0, 0, "proceed"},
		{2, 3, "wait_short"},
		{4, 1, "wait_long_retry_in_60_seconds"},
		{4, 5, "wait_long_retry_in_300_seconds"},
		{8, 0, "server_busy_retry_in_60_seconds"},
		{8, 10, "server_busy_retry_in_900_seconds"},
	}
	for _, tc := range cases {
		if got := recommendedAction(tc.pos, tc.retries); got != tc.want {
			t.Errorf("recommendedAction(%d, %d) = %q, want %q", tc.pos, tc.retries, got, tc.want)
		}
	}
}

func TestRecommend(t *testing.T) {
	r, _ := newTestLimiter()

	rec := r.Recommend("u", "")
	if rec.WaitSeconds != 30 || rec.Message != "You can try again immediately." {
		t.Errorf("fresh user: %+v", rec)
	}

	r.Finished("u", false)
	r.Finished("u", false)
	rec = r.Recommend("u", "Out of memory while loading model")
	// 30 * 2^2 = 120, doubled for memory.
	if rec.WaitSeconds != 240 || rec.WaitMinutes != 4 {
		t.Errorf("memory backoff: %+v", rec)
	}
	if rec.Message != "Please wait 4 minutes before retrying." {
		t.Errorf("message = %q", rec.Message)
	}

	r.Finished("u", false)
	rec = r.Recommend("u", "server_overload")
	// 30 * 2^3 = 240 * 1.5
	if rec.WaitSeconds != 360 {
		t.Errorf("overload backoff: %+v", rec)
	}
	if rec.Message != "Multiple attempts detected. Please wait 6 minutes to help reduce server load." {
		t.Errorf("message = %q", rec.Message)
	}

	r.Finished("u", true)
	if rec := r.Recommend("u", ""); rec.RetryCount != 0 {
		t.Errorf("success must reset retries, got %d", rec.RetryCount)
	}

	r.Enqueued("v")
	if rec := r.Recommend("v", ""); rec.Queue.UserPosition != 1 || rec.Queue.GlobalPosition < 1 {
		t.Errorf("queue info not attached: %+v", rec.Queue)
	}
}
