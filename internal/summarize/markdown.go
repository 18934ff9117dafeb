package summarize

import (
	"fmt"
	"strings"

	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/infra/i18n"
)

// Markdown renders the summary for storage and display in the given language.
func (s *Summarizer) Markdown(ms *model.MeetingSummary, lang string) string {
	return Render(ms, s.catalog.For(lang))
}

func Render(ms *model.MeetingSummary, tr *i18n.Translator) string {
	var out []string
	add := func(lines ...string) { out = append(out, lines...) }
	bullets := func(items []string) {
		for _, it := range items {
			add("• " + it)
		}
	}

	minutes := 0
	if ms.Duration > 0 {
		minutes = int(ms.Duration / 60)
	}
	add(tr.T("md.title"),
		tr.T("md.header", minutes, len(ms.Participants)),
		tr.T("md.quality", fmt.Sprintf("%.1f%%", ms.Quality*100)),
		"")

	add(tr.T("md.overview"), ms.Overview, "")

	if len(ms.Participants) > 0 {
		add(tr.T("md.participants"), strings.Join(ms.Participants, ", "), "")
	}
	if len(ms.KeyTopics) > 0 {
		add(tr.T("md.topics"))
		for i, t := range ms.KeyTopics {
			add(fmt.Sprintf("%d. %s", i+1, t))
		}
		add("")
	}
	if len(ms.Decisions) > 0 {
		add(tr.T("md.decisions"))
		bullets(ms.Decisions)
		add("")
	}
	if len(ms.ActionItems) > 0 {
		add(tr.T("md.actions"))
		for _, a := range ms.ActionItems {
			line := tr.T("md.action_task", a.Task)
			if a.Owner != "" && a.Owner != model.TBD {
				line += tr.T("md.action_owner", a.Owner)
			}
			if a.Due != "" && a.Due != model.TBD {
				line += tr.T("md.action_due", a.Due)
			}
			add(line)
		}
		add("")
	}
	if len(ms.Risks) > 0 {
		add(tr.T("md.risks"))
		bullets(ms.Risks)
		add("")
	}
	if len(ms.NextSteps) > 0 {
		add(tr.T("md.next_steps"))
		bullets(ms.NextSteps)
		add("")
	}

	if len(ms.Sections) > 1 {
		add(tr.T("md.details"))
		for i, sec := range ms.Sections {
			add(tr.T("md.section", i+1, sec.Topic, int(sec.StartTime/60), int(sec.EndTime/60)))
			if len(sec.Points) > 0 {
				add(tr.T("md.section_points"))
				bullets(sec.Points)
			}
			if len(sec.Decisions) > 0 {
				add(tr.T("md.section_decisions"))
				bullets(sec.Decisions)
			}
			add("")
		}
	}

	add("---", tr.T("md.footer"))
	return strings.Join(out, "\n")
}
