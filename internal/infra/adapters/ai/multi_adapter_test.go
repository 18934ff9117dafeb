//go:build !integration

package ai_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	ai "meeting-ai-pipeline/internal/infra/adapters/ai"
	"meeting-ai-pipeline/internal/infra/resilience"
)

type stubAI struct {
	name      string
	n         int
	lastModel string
}

func (s *stubAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	s.n++
	s.lastModel = opts.Model
	return s.name, nil
}

func (s *stubAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	out, err := s.Generate(ctx, prompt, opts)
	return out, adapter.Usage{PromptTokens: 1, CompletionTokens: 1}, err
}

func TestRouting_ExplicitMap_Heuristics_And_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	open := &stubAI{name: "openai"}
	gem := &stubAI{name: "gemini"}

	m := ai.NewMultiAIAdapter(
		"openai",
		map[string]adapter.Generator{"openai": open, "gemini": gem},
		map[string]string{"custom-x": "gemini"},
	)

	// explicit map wins
	_, _ = m.Generate(ctx, "p", adapter.GenerateOptions{Model: "custom-x"})
	if gem.n != 1 || open.n != 0 {
		t.Fatalf("explicit map should route to gemini, got open:%d gem:%d", open.n, gem.n)
	}
	open.n, gem.n = 0, 0

	// gpt-* -> openai
	_, _, _ = m.GenerateWithUsage(ctx, "p", adapter.GenerateOptions{Model: "gpt-4o-mini"})
	if open.n != 1 || gem.n != 0 {
		t.Fatalf("heuristic gpt-* should go openai")
	}
	open.n, gem.n = 0, 0

	// gemini-* -> gemini
	_, _, _ = m.GenerateWithUsage(ctx, "p", adapter.GenerateOptions{Model: "gemini-1.5-flash"})
	if gem.n != 1 || open.n != 0 {
		t.Fatalf("heuristic gemini-* should go gemini")
	}

	// unknown -> default provider (openai)
	open.n, gem.n = 0, 0
	_, _ = m.Generate(ctx, "p", adapter.GenerateOptions{Model: "unknown"})
	if open.n != 1 || gem.n != 0 {
		t.Fatalf("unknown model should go to default provider (openai)")
	}
}

func TestRouting_NoProvider(t *testing.T) {
	m := ai.NewMultiAIAdapter("openai", nil, nil)
	if _, err := m.Generate(context.Background(), "p", adapter.GenerateOptions{}); err == nil {
		t.Fatal("expected an error without providers")
	}
}

type slowAI struct {
	inFlight, peak int32
}

func (s *slowAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return "ok", nil
}

func (s *slowAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	out, err := s.Generate(ctx, prompt, opts)
	return out, adapter.Usage{}, err
}

func TestLimitedAI_CapsConcurrency(t *testing.T) {
	inner := &slowAI{}
	l := ai.NewLimitedAI(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Generate(context.Background(), "p", adapter.GenerateOptions{})
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak)
	}
}

func TestLimitedAI_WaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	inner := &blockingAI{started: make(chan struct{}), release: block}
	l := ai.NewLimitedAI(inner, 1)

	go func() { _, _ = l.Generate(context.Background(), "p", adapter.GenerateOptions{}) }()
	<-inner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Generate(ctx, "p", adapter.GenerateOptions{})
	close(block)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while waiting for a slot, got %v", err)
	}
}

type blockingAI struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return "ok", nil
}

func (b *blockingAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	out, err := b.Generate(ctx, prompt, opts)
	return out, adapter.Usage{}, err
}

func TestNoopAI_StructuredAnswer(t *testing.T) {
	log := zerolog.New(io.Discard)
	n := ai.NewNoopAIAdapter(&log)

	out, err := n.Generate(context.Background(), "OUTPUT FORMAT:\nTOPIC: [x]", adapter.GenerateOptions{})
	if err != nil || !strings.HasPrefix(out, "TOPIC:") {
		t.Fatalf("expected structured answer, got %q, %v", out, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Generate(ctx, "p", adapter.GenerateOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestNewGenerator_FallsBackToNoop(t *testing.T) {
	log := zerolog.New(io.Discard)

	gen, err := ai.NewGenerator(context.Background(), config.AIConfig{}, &log)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, ok := gen.(*ai.NoopAIAdapter); !ok {
		t.Fatalf("expected noop generator, got %T", gen)
	}

	gen, err = ai.NewGenerator(context.Background(), config.AIConfig{OpenAIKey: "sk-test", ConcurrentLimit: 2}, &log)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, ok := gen.(*ai.NoopAIAdapter); ok {
		t.Fatal("configured provider should not fall back to noop")
	}
}

type flakyAI struct {
	calls int
	fails int
	err   error
}

func (f *flakyAI) Generate(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, error) {
	out, _, err := f.GenerateWithUsage(ctx, prompt, opts)
	return out, err
}

func (f *flakyAI) GenerateWithUsage(ctx context.Context, prompt string, opts adapter.GenerateOptions) (string, adapter.Usage, error) {
	f.calls++
	if f.calls <= f.fails {
		return "", adapter.Usage{}, f.err
	}
	return "ok", adapter.Usage{TotalTokens: 3}, nil
}

func TestRetryingAI(t *testing.T) {
	log := zerolog.New(io.Discard)
	policy := resilience.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("transient errors are retried", func(t *testing.T) {
		inner := &flakyAI{fails: 2, err: domain.ErrTimeout}
		gen := ai.NewRetryingAI(inner, policy, &log)

		out, usage, err := gen.GenerateWithUsage(context.Background(), "p", adapter.GenerateOptions{})
		if err != nil || out != "ok" || usage.TotalTokens != 3 {
			t.Fatalf("got %q %+v %v", out, usage, err)
		}
		if inner.calls != 3 {
			t.Errorf("calls = %d, want 3", inner.calls)
		}
	})

	t.Run("fatal errors return at once", func(t *testing.T) {
		inner := &flakyAI{fails: 5, err: errors.New("bad request")}
		gen := ai.NewRetryingAI(inner, policy, &log)

		if _, err := gen.Generate(context.Background(), "p", adapter.GenerateOptions{}); err == nil {
			t.Fatal("expected error")
		}
		if inner.calls != 1 {
			t.Errorf("calls = %d, want 1", inner.calls)
		}
	})
}
