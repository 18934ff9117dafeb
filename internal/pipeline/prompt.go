package pipeline

import (
	"fmt"
	"strings"

	"meeting-ai-pipeline/internal/domain/model"
)

const defaultBasePrompt = "This is a professional meeting with multiple speakers."

// contextPrompt conditions the engine on the speakers seen so far so that
// its own labeling stays stable from one window to the next.
func contextPrompt(base string, chunkIdx int, t *speakerTracker) string {
	if base == "" {
		base = defaultBasePrompt
	}
	if chunkIdx == 0 {
		return base + " Please transcribe accurately with natural speaker changes."
	}
	if t.speakers() <= 1 {
		return base
	}

	names := make([]string, 0, 3)
	for _, id := range t.history[:min(3, len(t.history))] {
		names = append(names, model.SpeakerLabel(id))
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(" This is a continuation of a meeting. ")
	fmt.Fprintf(&b, "There are %d speakers identified so far: %s. ", t.speakers(), strings.Join(names, ", "))
	fmt.Fprintf(&b, "The last speaker was %s. ", model.SpeakerLabel(t.last))
	b.WriteString("Please maintain speaker consistency.")
	return b.String()
}
