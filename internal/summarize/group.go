package summarize

import (
	"fmt"
	"strings"

	"meeting-ai-pipeline/internal/domain/model"
)

var topicStopwords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {},
	"ve": {}, "bir": {}, "ile": {}, "veya": {}, "ama": {},
}

// groupSections walks chunk summaries in order and opens a new section every
// time the topic shares no meaningful word with the running section's topic.
func groupSections(chunks []*model.ChunkSummary) []*model.SectionSummary {
	var (
		sections []*model.SectionSummary
		cur      *model.SectionSummary
	)
	for _, c := range chunks {
		if cur == nil || !topicsSimilar(cur.Topic, c.Topic) {
			if cur != nil {
				sections = append(sections, cur)
			}
			cur = &model.SectionSummary{
				SectionID: fmt.Sprintf("section_%d", len(sections)),
				Topic:     c.Topic,
				StartTime: c.StartTime,
				EndTime:   c.EndTime,
				Chunks:    []*model.ChunkSummary{c},
			}
			continue
		}
		cur.Chunks = append(cur.Chunks, c)
		cur.EndTime = c.EndTime
	}
	if cur != nil {
		sections = append(sections, cur)
	}

	for _, s := range sections {
		consolidate(s)
	}
	return sections
}

func topicsSimilar(a, b string) bool {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(a)) {
		words[w] = struct{}{}
	}
	for _, w := range strings.Fields(strings.ToLower(b)) {
		if _, stop := topicStopwords[w]; stop {
			continue
		}
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

// consolidate recomputes the section aggregates from its chunks, so calling
// it again yields the same sets.
func consolidate(s *model.SectionSummary) {
	var points, decisions, risks []string
	var actions []model.ActionItem
	for _, c := range s.Chunks {
		points = append(points, c.KeyPoints...)
		decisions = append(decisions, c.Decisions...)
		actions = append(actions, c.ActionItems...)
		risks = append(risks, c.Risks...)
	}
	s.Points = dedupStrings(points)
	s.Decisions = dedupStrings(decisions)
	s.Actions = dedupActions(actions)
	s.Risks = dedupStrings(risks)
}

// dedupStrings removes exact duplicates keeping first-seen order.
func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// dedupActions keys actions on their normalized task; actions without a task are dropped.
func dedupActions(in []model.ActionItem) []model.ActionItem {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.ActionItem, 0, len(in))
	for _, a := range in {
		key := strings.ToLower(strings.TrimSpace(a.Task))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
