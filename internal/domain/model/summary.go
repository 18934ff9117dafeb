package model

// ActionItem is a task extracted from a meeting. Unknown fields hold "TBD".
type ActionItem struct {
	Owner string `json:"owner"`
	Task  string `json:"task"`
	Due   string `json:"due"`
}

const TBD = "TBD"

type Quote struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// ChunkSummary is the structured extraction for one transcript window.
type ChunkSummary struct {
	ChunkID      string       `json:"chunk_id"`
	StartTime    float64      `json:"start_time"`
	EndTime      float64      `json:"end_time"`
	Topic        string       `json:"topic"`
	KeyPoints    []string     `json:"key_points"`
	Decisions    []string     `json:"decisions"`
	ActionItems  []ActionItem `json:"action_items"`
	Risks        []string     `json:"risks"`
	Quotes       []Quote      `json:"important_quotes"`
	Participants []string     `json:"participants"`
	ChunkText    string       `json:"chunk_text"`
}

// SectionSummary groups adjacent chunks that talk about the same topic.
type SectionSummary struct {
	SectionID string          `json:"section_id"`
	Topic     string          `json:"topic"`
	StartTime float64         `json:"start_time"`
	EndTime   float64         `json:"end_time"`
	Chunks    []*ChunkSummary `json:"chunks"`
	Points    []string        `json:"consolidated_points"`
	Decisions []string        `json:"decisions"`
	Actions   []ActionItem    `json:"actions"`
	Risks     []string        `json:"risks"`
}

// MeetingSummary is the final artifact of the summarizer.
type MeetingSummary struct {
	Overview     string            `json:"meeting_overview"`
	Duration     float64           `json:"duration"`
	Participants []string          `json:"participants"`
	KeyTopics    []string          `json:"key_topics"`
	Sections     []*SectionSummary `json:"sections"`
	Decisions    []string          `json:"all_decisions"`
	ActionItems  []ActionItem      `json:"all_action_items"`
	Risks        []string          `json:"risks_and_blockers"`
	NextSteps    []string          `json:"next_steps"`
	Quality      float64           `json:"summary_quality_score"`
}
