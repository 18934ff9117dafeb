package adapter

import "context"

type TranscribeOptions struct {
	// Language is an ISO code; empty lets the engine detect it.
	Language string
	// Prompt conditions the engine on earlier context.
	Prompt string
}

// TimedText is one segment as produced by the engine, relative to the window start.
type TimedText struct {
	Start float64
	End   float64
	Text  string
}

type TranscribeResult struct {
	Segments []TimedText
	Language string
	Duration float64
}

// Transcriber maps one audio window to timestamped text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscribeResult, error)
}

// Releaser is implemented by heavyweight handles that can be dropped under memory pressure.
type Releaser interface {
	Release() error
}
