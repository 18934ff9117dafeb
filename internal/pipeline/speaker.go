package pipeline

import (
	"math"
	"strings"
)

const (
	continuationWindow = 5.0 // seconds into a new chunk treated as overlap carry-over
	continuationMaxGap = 2.0
	qaMinGap           = 0.3
	shortUtteranceGap  = 0.5
	shortUtteranceLen  = 3
)

// Lowercased openers that usually mark a reply.
var replyOpeners = []string{"yes", "no", "well", "so", "okay", "right", "i think", "actually"}

// speakerTracker carries speaker continuity across the chunks of one job.
// It is an approximation driven by silence gaps and surface cues, not
// diarization. Chunks must be fed strictly in order.
type speakerTracker struct {
	maxSpeakers   int
	threshold     float64
	chunkDuration float64

	history []int
	last    int
	lastEnd float64
}

func newSpeakerTracker(maxSpeakers int, threshold, chunkDuration float64) *speakerTracker {
	if maxSpeakers <= 0 {
		maxSpeakers = 1
	}
	return &speakerTracker{maxSpeakers: maxSpeakers, threshold: threshold, chunkDuration: chunkDuration}
}

// assign returns the speaker id for a segment starting at globalStart and
// records it as the most recent one.
func (t *speakerTracker) assign(chunkIdx int, globalStart, globalEnd float64, text string) int {
	id := t.decide(chunkIdx, globalStart, text)
	t.remember(id)
	t.last = id
	t.lastEnd = globalEnd
	return id
}

func (t *speakerTracker) decide(chunkIdx int, globalStart float64, text string) int {
	if chunkIdx == 0 && len(t.history) == 0 {
		return 0
	}
	gap := globalStart - t.lastEnd

	change := gap > t.threshold

	if chunkIdx > 0 && t.chunkDuration > 0 &&
		math.Mod(globalStart, t.chunkDuration) < continuationWindow && gap < continuationMaxGap {
		return t.last
	}

	lower := strings.ToLower(text)
	if strings.HasSuffix(strings.TrimSpace(text), "?") || hasAnyPrefix(lower, replyOpeners) {
		if gap > qaMinGap {
			change = true
		}
	}

	if len(strings.Fields(text)) <= shortUtteranceLen && gap > shortUtteranceGap {
		change = true
	}

	if change {
		return (t.last + 1) % t.maxSpeakers
	}
	return t.last
}

func (t *speakerTracker) remember(id int) {
	for _, h := range t.history {
		if h == id {
			return
		}
	}
	t.history = append(t.history, id)
}

func (t *speakerTracker) speakers() int { return len(t.history) }

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
