package summarize

import (
	"strings"
	"unicode/utf8"
)

// WindowSizes bound the transcript windows sent to the map step, in characters.
type WindowSizes struct {
	Optimal int
	Max     int
	Min     int
}

var speakerIndicators = []string{
	"speaker 1:", "speaker 2:", "speaker 3:",
	"john:", "mary:", "alex:", "sarah:",
	"konuşmacı 1:", "konuşmacı 2:", "ahmet:", "ayşe:",
}

var transitionPhrases = []string{
	"next topic", "moving on", "another point", "now let's",
	"what about", "regarding", "as for", "switching to",
	"şimdi", "bir sonraki", "diğer konu", "başka bir",
}

var qaIndicators = []string{"?", "question:", "answer:", "soru:", "cevap:"}

// splitWindows cuts text on sentence boundaries into windows near the optimal
// size, preferring speaker changes, topic transitions and questions as cut
// points once the optimal size is reached.
func splitWindows(text string, sz WindowSizes) []string {
	if runeLen(text) <= sz.Optimal {
		return []string{text}
	}

	var (
		windows []string
		current string
	)
	flush := func() {
		if s := strings.TrimSpace(current); s != "" {
			windows = append(windows, s)
		}
		current = ""
	}

	for _, sentence := range strings.Split(text, ". ") {
		candidate := current + sentence + ". "
		switch {
		case runeLen(candidate) >= sz.Max:
			flush()
			for sz.Max > 2 && runeLen(sentence)+2 >= sz.Max {
				head, tail := cutRunes(sentence, sz.Max)
				windows = append(windows, head)
				sentence = tail
			}
			current = sentence + ". "
		case runeLen(candidate) >= sz.Optimal && isGoodBoundary(sentence):
			flush()
			current = sentence + ". "
		default:
			current = candidate
		}
	}
	flush()

	return mergeSmall(windows, sz)
}

func isGoodBoundary(sentence string) bool {
	lower := strings.ToLower(strings.TrimSpace(sentence))
	return containsAny(lower, speakerIndicators) ||
		containsAny(lower, transitionPhrases) ||
		containsAny(sentence, qaIndicators)
}

// mergeSmall folds windows below the floor into their successor while the
// result stays within the ceiling.
func mergeSmall(windows []string, sz WindowSizes) []string {
	if len(windows) == 0 {
		return windows
	}
	merged := make([]string, 0, len(windows))
	current := windows[0]
	for _, next := range windows[1:] {
		if runeLen(current) < sz.Min && runeLen(current)+runeLen(next) <= sz.Max {
			current += " " + next
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// cutRunes splits s after n runes.
func cutRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// truncateRunes keeps at most n runes of s.
func truncateRunes(s string, n int) string {
	head, _ := cutRunes(s, n)
	return head
}
