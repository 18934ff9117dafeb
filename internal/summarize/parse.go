package summarize

import (
	"fmt"
	"strings"

	"meeting-ai-pipeline/internal/domain/model"
)

// chunkSeconds is the nominal span attributed to one transcript window.
const chunkSeconds = 180.0

type section int

const (
	sectionNone section = iota
	sectionPoints
	sectionDecisions
	sectionActions
	sectionRisks
	sectionQuotes
)

var sectionHeaders = []struct {
	prefixes []string
	sec      section
}{
	{[]string{"KEY POINTS:", "ANA NOKTALAR:"}, sectionPoints},
	{[]string{"DECISIONS:", "KARARLAR:"}, sectionDecisions},
	{[]string{"ACTIONS:", "AKSIYONLAR:"}, sectionActions},
	{[]string{"RISKS:", "RİSKLER:"}, sectionRisks},
	{[]string{"IMPORTANT QUOTE:", "ÖNEMLİ ALINTI:"}, sectionQuotes},
}

// parseChunk reads the structured layout requested by the map prompt. A
// response without any recognizable header or bullet degrades to a single
// key point holding an excerpt of the raw text.
func parseChunk(response, chunkText string, idx int, generalTopic string) *model.ChunkSummary {
	cs := &model.ChunkSummary{
		ChunkID:   fmt.Sprintf("chunk_%d", idx),
		StartTime: float64(idx) * chunkSeconds,
		EndTime:   float64(idx+1) * chunkSeconds,
		Topic:     generalTopic,
		ChunkText: chunkText,
	}

	recognized := false
	cur := sectionNone
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if hasAnyPrefix(line, "TOPIC:", "KONU:") {
			cs.Topic = afterColon(line)
			recognized = true
			continue
		}
		if hasAnyPrefix(line, "PARTICIPANTS:", "KATILIMCILAR:") {
			for _, p := range strings.Split(afterColon(line), ",") {
				cs.Participants = append(cs.Participants, strings.TrimSpace(p))
			}
			cur = sectionNone
			recognized = true
			continue
		}
		if sec, ok := headerOf(line); ok {
			cur = sec
			recognized = true
			continue
		}
		if !strings.HasPrefix(line, "- ") || cur == sectionNone {
			continue
		}

		content := strings.TrimSpace(line[2:])
		recognized = true
		switch cur {
		case sectionPoints:
			cs.KeyPoints = append(cs.KeyPoints, content)
		case sectionDecisions:
			cs.Decisions = append(cs.Decisions, content)
		case sectionActions:
			cs.ActionItems = append(cs.ActionItems, parseAction(content))
		case sectionRisks:
			cs.Risks = append(cs.Risks, content)
		case sectionQuotes:
			cs.Quotes = append(cs.Quotes, parseQuote(content))
		}
	}

	if !recognized {
		cs.Topic = "Discussion"
		excerpt := response
		if runeLen(response) > 200 {
			excerpt = truncateRunes(response, 200) + "..."
		}
		cs.KeyPoints = []string{excerpt}
	}
	return cs
}

// parseAction reads "Owner: x | Task: y | Due: z"; missing parts stay TBD and
// the task defaults to the whole line.
func parseAction(content string) model.ActionItem {
	a := model.ActionItem{Owner: model.TBD, Task: content, Due: model.TBD}
	for _, part := range strings.Split(content, "|") {
		part = strings.TrimSpace(part)
		switch {
		case hasAnyPrefix(part, "Owner:", "Sahip:"):
			a.Owner = afterColon(part)
		case hasAnyPrefix(part, "Task:", "Görev:"):
			a.Task = afterColon(part)
		case hasAnyPrefix(part, "Due:", "Tarih:"):
			a.Due = afterColon(part)
		}
	}
	return a
}

// parseQuote reads `Speaker: name | Quote: "text"`.
func parseQuote(content string) model.Quote {
	speakerPart, quotePart, ok := strings.Cut(content, "|")
	if !ok {
		return model.Quote{Speaker: "Unknown", Text: content}
	}
	speakerPart = strings.TrimSpace(speakerPart)
	quotePart = strings.TrimSpace(quotePart)

	q := model.Quote{Speaker: "Unknown", Text: quotePart}
	if strings.Contains(speakerPart, ":") {
		q.Speaker = afterColon(speakerPart)
	}
	if strings.Contains(quotePart, ":") {
		q.Text = strings.Trim(afterColon(quotePart), `"`)
	}
	return q
}

func headerOf(line string) (section, bool) {
	for _, h := range sectionHeaders {
		if hasAnyPrefix(line, h.prefixes...) {
			return h.sec, true
		}
	}
	return sectionNone, false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func afterColon(s string) string {
	_, rest, _ := strings.Cut(s, ":")
	return strings.TrimSpace(rest)
}
