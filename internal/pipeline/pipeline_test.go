//go:build !integration

package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/progress"

	"github.com/rs/zerolog"
)

// --- Fakes ---

type fakeMedia struct {
	duration float64
	probeErr error

	mu        sync.Mutex
	extracted []string
}

func (m *fakeMedia) Duration(ctx context.Context, path string) (float64, error) {
	return m.duration, m.probeErr
}

func (m *fakeMedia) Extract(ctx context.Context, src, dst string, start, length float64) error {
	m.mu.Lock()
	m.extracted = append(m.extracted, dst)
	m.mu.Unlock()
	return os.WriteFile(dst, []byte("pcm"), 0o600)
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fn      func(call int, path string) (*adapter.TranscribeResult, error)
}

func (e *fakeEngine) Transcribe(ctx context.Context, path string, opts adapter.TranscribeOptions) (*adapter.TranscribeResult, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.prompts = append(e.prompts, opts.Prompt)
	e.mu.Unlock()
	return e.fn(call, path)
}

// windowResult yields two segments per window, local to the window start.
func windowResult(call int, path string) (*adapter.TranscribeResult, error) {
	return &adapter.TranscribeResult{
		Language: "en",
		Segments: []adapter.TimedText{
			{Start: 1, End: 10, Text: " Let us go over the quarterly numbers together "},
			{Start: 12, End: 30, Text: "We shipped the new billing flow on time this month"},
		},
	}, nil
}

type pipelineFixture struct {
	pipe   *Pipeline
	store  *progress.Store
	media  *fakeMedia
	engine *fakeEngine
	dir    string
	audio  string
}

func newFixture(t *testing.T, duration float64, window, overlap float64, fn func(int, string) (*adapter.TranscribeResult, error)) *pipelineFixture {
	t.Helper()
	log := zerolog.New(io.Discard)
	dir := t.TempDir()
	audio := filepath.Join(dir, "meeting.mp3")
	if err := os.WriteFile(audio, []byte("audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := progress.NewStore(0, &log)
	if _, err := store.Create("job-1", "user-1"); err != nil {
		t.Fatal(err)
	}
	media := &fakeMedia{duration: duration}
	engine := &fakeEngine{fn: fn}
	opts := Options{
		ChunkDuration:    window,
		ChunkOverlap:     overlap,
		MaxSpeakers:      6,
		SpeakerThreshold: 0.8,
		TempDir:          dir,
	}
	return &pipelineFixture{
		pipe:   New(media, engine, store, nil, opts, &log),
		store:  store,
		media:  media,
		engine: engine,
		dir:    dir,
		audio:  audio,
	}
}

// --- PlanWindows ---

func TestPlanWindows(t *testing.T) {
	t.Run("should cover 130s with three overlapping windows", func(t *testing.T) {
		got := PlanWindows(130, 45, 5)
		want := [][2]float64{{0, 45}, {40, 85}, {80, 130}}
		if len(got) != len(want) {
			t.Fatalf("got %d windows: %+v", len(got), got)
		}
		for i, w := range want {
			if got[i].Start != w[0] || got[i].End != w[1] || got[i].Index != i {
				t.Errorf("window %d = %+v, want %v", i, got[i], w)
			}
		}
	})

	t.Run("should leave no gaps in coverage", func(t *testing.T) {
		for _, d := range []float64{1, 44.9, 45, 46, 90, 131, 600, 3601.5} {
			ws := PlanWindows(d, 45, 8)
			if ws[0].Start != 0 || ws[len(ws)-1].End != d {
				t.Fatalf("duration %v: coverage %v..%v", d, ws[0].Start, ws[len(ws)-1].End)
			}
			for i := 1; i < len(ws); i++ {
				if ws[i].Start > ws[i-1].End {
					t.Errorf("duration %v: gap between window %d and %d", d, i-1, i)
				}
				if ws[i].Start <= ws[i-1].Start {
					t.Errorf("duration %v: windows not advancing", d)
				}
			}
		}
	})

	t.Run("should use one window when the file is shorter than the window", func(t *testing.T) {
		ws := PlanWindows(180, 300, 8)
		if len(ws) != 1 || ws[0].End != 180 {
			t.Errorf("got %+v", ws)
		}
	})

	t.Run("should treat unknown duration as a single whole-file window", func(t *testing.T) {
		ws := PlanWindows(0, 45, 8)
		if len(ws) != 1 || ws[0].Start != 0 || ws[0].End != 0 {
			t.Errorf("got %+v", ws)
		}
	})
}

// --- Speaker heuristic (approximate by construction) ---

func TestSpeakerTracker(t *testing.T) {
	t.Run("first segment is speaker 0 and small gaps keep the speaker", func(t *testing.T) {
		tr := newSpeakerTracker(6, 0.8, 45)
		if id := tr.assign(0, 0, 4, "Good morning and welcome to the review"); id != 0 {
			t.Fatalf("first id = %d", id)
		}
		if id := tr.assign(0, 4.2, 8, "Today we cover the release plan in detail"); id != 0 {
			t.Errorf("small gap switched speaker to %d", id)
		}
	})

	t.Run("long silence switches round-robin", func(t *testing.T) {
		tr := newSpeakerTracker(2, 0.8, 45)
		tr.assign(0, 0, 4, "Opening statement for the whole group today")
		if id := tr.assign(0, 6, 9, "A much longer answer that keeps on going"); id != 1 {
			t.Errorf("expected switch to 1, got %d", id)
		}
		if id := tr.assign(0, 11, 14, "And back to the first person once more now"); id != 0 {
			t.Errorf("expected wrap to 0, got %d", id)
		}
		if tr.speakers() != 2 {
			t.Errorf("speakers = %d", tr.speakers())
		}
	})

	t.Run("question or reply opener switches on a short gap", func(t *testing.T) {
		tr := newSpeakerTracker(6, 0.8, 45)
		tr.assign(0, 0, 4, "Here is the proposal for the new office layout")
		if id := tr.assign(0, 4.4, 6, "Could we afford that within this budget cycle?"); id != 1 {
			t.Errorf("question did not switch, got %d", id)
		}
		if id := tr.assign(0, 6.4, 9, "Yes we have headroom in the facilities line"); id != 2 {
			t.Errorf("reply opener did not switch, got %d", id)
		}
	})

	t.Run("short utterance with moderate gap switches", func(t *testing.T) {
		tr := newSpeakerTracker(6, 0.8, 45)
		tr.assign(0, 0, 4, "Let me walk through the migration steps first")
		if id := tr.assign(0, 4.6, 5, "Sounds good"); id != 1 {
			t.Errorf("short utterance did not switch, got %d", id)
		}
	})

	t.Run("start of a later chunk is treated as continuation", func(t *testing.T) {
		tr := newSpeakerTracker(6, 0.8, 45)
		tr.assign(0, 0, 44, "A long monologue that fills the first window entirely")
		// 45 mod 45 = 0 < 5 and gap 1 < 2: keep the speaker despite the 0.8s threshold.
		if id := tr.assign(1, 45, 50, "Okay?"); id != 0 {
			t.Errorf("continuation exception not applied, got %d", id)
		}
	})
}

func TestContextPrompt(t *testing.T) {
	tr := newSpeakerTracker(6, 0.8, 45)
	if got := contextPrompt("", 0, tr); got != defaultBasePrompt+" Please transcribe accurately with natural speaker changes." {
		t.Errorf("chunk 0 prompt = %q", got)
	}
	tr.assign(0, 0, 2, "Hello there everyone in the room")
	if got := contextPrompt("Board meeting.", 1, tr); got != "Board meeting." {
		t.Errorf("single speaker prompt = %q", got)
	}
	tr.assign(0, 5, 6, "Hi")
	tr.assign(0, 9, 10, "Hey")
	tr.assign(0, 13, 14, "Yo")
	want := defaultBasePrompt + " This is a continuation of a meeting. There are 4 speakers identified so far: Speaker 1, Speaker 2, Speaker 3. The last speaker was Speaker 4. Please maintain speaker consistency."
	if got := contextPrompt("", 2, tr); got != want {
		t.Errorf("continuation prompt =\n%q\nwant\n%q", got, want)
	}
}

// --- Pipeline ---

func TestTranscribe_ReassemblesInGlobalOrder(t *testing.T) {
	// Arrange
	f := newFixture(t, 130, 45, 5, windowResult)

	// Act
	tr, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "auto")

	// Assert
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Chunks != 3 || f.engine.calls != 3 {
		t.Fatalf("chunks=%d calls=%d", tr.Chunks, f.engine.calls)
	}
	if len(tr.Segments) != 6 {
		t.Fatalf("segments = %d, want 6", len(tr.Segments))
	}
	wantStarts := []float64{1, 12, 41, 52, 81, 92}
	for i, s := range tr.Segments {
		if s.Start != wantStarts[i] {
			t.Errorf("segment %d start = %v, want %v", i, s.Start, wantStarts[i])
		}
		if i > 0 && s.Start < tr.Segments[i-1].Start {
			t.Errorf("segments out of order at %d", i)
		}
		if s.Speaker != model.SpeakerLabel(s.SpeakerID) {
			t.Errorf("label mismatch: %+v", s)
		}
	}
	if tr.Language != "en" {
		t.Errorf("language = %q", tr.Language)
	}
	if !strings.HasPrefix(tr.Text, "Speaker 1: Let us go over the quarterly numbers together") {
		t.Errorf("text = %q", tr.Text)
	}

	// Every extracted chunk file is gone.
	for _, p := range f.media.extracted {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("chunk file %s left behind", p)
		}
	}

	v, _ := f.store.Get("job-1")
	if v.Phase != model.PhaseTranscribing || v.Progress != 30 || v.Current != 130 || v.Total != 130 {
		t.Errorf("unexpected job view: %+v", v)
	}
	if !strings.Contains(v.Message, "Transcribed chunk 3/3") {
		t.Errorf("message = %q", v.Message)
	}
}

func TestTranscribe_SingleWindow(t *testing.T) {
	f := newFixture(t, 180, 300, 8, windowResult)

	tr, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Chunks != 1 || len(tr.Segments) == 0 || tr.Text == "" {
		t.Errorf("unexpected transcript: %+v", tr)
	}
	if !strings.HasSuffix(f.engine.prompts[0], "natural speaker changes.") {
		t.Errorf("first window prompt = %q", f.engine.prompts[0])
	}
}

func TestTranscribe_UnknownDurationUsesSourceFile(t *testing.T) {
	f := newFixture(t, 0, 45, 8, func(call int, path string) (*adapter.TranscribeResult, error) {
		if !strings.HasSuffix(path, "meeting.mp3") {
			return nil, errors.New("expected the original file")
		}
		return windowResult(call, path)
	})
	f.media.probeErr = errors.New("ffprobe: not found")

	tr, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Chunks != 1 || len(f.media.extracted) != 0 {
		t.Errorf("chunks=%d extracted=%v", tr.Chunks, f.media.extracted)
	}
	if _, err := os.Stat(f.audio); err != nil {
		t.Error("the source file must not be removed")
	}
}

func TestTranscribe_SkipsFailedChunk(t *testing.T) {
	f := newFixture(t, 130, 45, 5, func(call int, path string) (*adapter.TranscribeResult, error) {
		if call == 1 {
			return nil, errors.New("decoder crashed")
		}
		return windowResult(call, path)
	})

	tr, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Failed != 1 || len(tr.Segments) != 4 {
		t.Errorf("failed=%d segments=%d", tr.Failed, len(tr.Segments))
	}
	for _, p := range f.media.extracted {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("chunk file %s left behind after failure", p)
		}
	}
}

func TestTranscribe_AllChunksFail(t *testing.T) {
	f := newFixture(t, 90, 45, 5, func(int, string) (*adapter.TranscribeResult, error) {
		return nil, errors.New("engine unavailable")
	})

	_, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "en")
	if !errors.Is(err, domain.ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
	if domain.UserMessage(err) != "transcription failed for every audio chunk" {
		t.Errorf("user message = %q", domain.UserMessage(err))
	}
}

func TestTranscribe_CanceledMidway(t *testing.T) {
	var f *pipelineFixture
	f = newFixture(t, 130, 45, 5, func(call int, path string) (*adapter.TranscribeResult, error) {
		if call == 1 {
			f.store.Cancel("job-1")
		}
		return windowResult(call, path)
	})

	_, err := f.pipe.Transcribe(context.Background(), "job-1", f.audio, "en")
	if !errors.Is(err, domain.ErrJobCanceled) {
		t.Fatalf("expected ErrJobCanceled, got %v", err)
	}
	if f.engine.calls != 2 {
		t.Errorf("expected to stop after the current chunk, made %d calls", f.engine.calls)
	}
	v, _ := f.store.Get("job-1")
	if v.Phase != model.PhaseCanceled {
		t.Errorf("phase = %s", v.Phase)
	}
}

func TestTranscribe_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, 130, 45, 5, func(call int, path string) (*adapter.TranscribeResult, error) {
		cancel()
		return nil, context.Canceled
	})

	_, err := f.pipe.Transcribe(ctx, "job-1", f.audio, "en")
	if !errors.Is(err, domain.ErrJobCanceled) || domain.IsRetryable(err) {
		t.Fatalf("expected non-retryable cancellation, got %v", err)
	}
	if f.engine.calls != 1 {
		t.Errorf("calls = %d", f.engine.calls)
	}
}
