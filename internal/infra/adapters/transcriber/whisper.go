// Package transcriber talks to an OpenAI-compatible speech-to-text endpoint.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/ports/adapter"
	"meeting-ai-pipeline/internal/infra/metrics"
)

var (
	_ adapter.Transcriber = (*Whisper)(nil)
	_ adapter.Releaser    = (*Whisper)(nil)
)

// verboseResult is the verbose_json transcription layout.
type verboseResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Whisper is the transcription engine handle. The underlying client is built
// on first use and dropped by Release, so the governor can reclaim it under
// memory pressure.
type Whisper struct {
	cfg  config.TranscriberConfig
	opts []option.RequestOption
	log  *zerolog.Logger

	mu     sync.Mutex
	client *openai.Client
	http   *http.Client
}

func NewWhisper(cfg config.TranscriberConfig, logger *zerolog.Logger, extra ...option.RequestOption) *Whisper {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	l := logger.With().Str("component", "Whisper").Logger()
	return &Whisper{cfg: cfg, opts: extra, log: &l}
}

func (w *Whisper) handle() *openai.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client
	}
	w.http = &http.Client{Timeout: w.cfg.Timeout}
	opts := []option.RequestOption{
		option.WithAPIKey(w.cfg.APIKey),
		option.WithHTTPClient(w.http),
	}
	if w.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(w.cfg.BaseURL))
	}
	c := openai.NewClient(append(opts, w.opts...)...)
	w.client = &c
	w.log.Info().Str("model", w.cfg.Model).Msg("transcription engine loaded")
	return w.client
}

// Loaded reports whether the engine handle is currently held.
func (w *Whisper) Loaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client != nil
}

// Release drops the engine handle and its pooled connections.
func (w *Whisper) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	w.http.CloseIdleConnections()
	w.client, w.http = nil, nil
	w.log.Info().Msg("transcription engine released")
	return nil
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string, opts adapter.TranscribeOptions) (*adapter.TranscribeResult, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(w.cfg.Model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
		Temperature:    openai.Float(0),
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = openai.String(opts.Prompt)
	}

	start := time.Now()
	resp, err := w.handle().Audio.Transcriptions.New(ctx, params)
	latency := time.Since(start).Seconds()
	if err != nil {
		metrics.ObserveTranscription(w.cfg.Model, 0, latency, false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTranscription, err)
	}

	var vr verboseResult
	if err := json.Unmarshal([]byte(resp.RawJSON()), &vr); err != nil {
		metrics.ObserveTranscription(w.cfg.Model, 0, latency, false)
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrTranscription, err)
	}
	metrics.ObserveTranscription(w.cfg.Model, vr.Duration, latency, true)

	out := &adapter.TranscribeResult{Language: vr.Language, Duration: vr.Duration}
	for _, s := range vr.Segments {
		out.Segments = append(out.Segments, adapter.TimedText{Start: s.Start, End: s.End, Text: s.Text})
	}
	// Engines without segment output still return the text.
	if len(out.Segments) == 0 && vr.Text != "" {
		out.Segments = []adapter.TimedText{{Start: 0, End: vr.Duration, Text: vr.Text}}
	}
	return out, nil
}
