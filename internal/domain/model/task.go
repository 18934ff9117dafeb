package model

import (
	"encoding/json"
	"time"
)

type TaskType string

const (
	TaskTranscription          TaskType = "transcription"
	TaskSummarization          TaskType = "summarization"
	TaskTranscribeAndSummarize TaskType = "transcribe_and_summarize"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTranscription, TaskSummarization, TaskTranscribeAndSummarize:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Priorities used by the submission path. Higher dequeues first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 9
)

// Task is the envelope a worker claims from the backlog.
type Task struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Type      TaskType        `json:"type"`
	UserID    string          `json:"user_id"`
	Priority  int             `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
	Retries   int             `json:"retries"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MediaPayload is the payload of transcription tasks.
type MediaPayload struct {
	AudioPath string `json:"audio_path"`
	Language  string `json:"language"`
	FileName  string `json:"file_name,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// TextPayload is the payload of summarization-only tasks.
type TextPayload struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

// TaskState is what the result store keeps about a task.
type TaskState struct {
	TaskID    string     `json:"task_id"`
	JobID     string     `json:"job_id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	Retries   int        `json:"retries"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JobResult is the artifact a finished job produces.
type JobResult struct {
	JobID      string          `json:"job_id"`
	Language   string          `json:"language"`
	Duration   float64         `json:"duration"`
	Transcript string          `json:"transcript"`
	Segments   []Segment       `json:"segments"`
	Summary    *MeetingSummary `json:"summary,omitempty"`
	Markdown   string          `json:"markdown,omitempty"`
}
