package transcriber

import (
	"context"
	"fmt"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Transcriber = (*Noop)(nil)

// Noop returns one fixed segment per window; used when no engine is configured.
type Noop struct{}

func (Noop) Transcribe(ctx context.Context, audioPath string, opts adapter.TranscribeOptions) (*adapter.TranscribeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	return &adapter.TranscribeResult{
		Language: lang,
		Segments: []adapter.TimedText{
			{Start: 0, End: 5, Text: fmt.Sprintf("Placeholder transcript for %s.", audioPath)},
		},
	}, nil
}
