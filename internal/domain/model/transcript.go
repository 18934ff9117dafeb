package model

import "fmt"

// Segment is one timestamped, speaker-labeled piece of a transcript.
// Times are seconds from the start of the recording.
type Segment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	SpeakerID int     `json:"speaker_id"`
}

// SpeakerLabel renders a zero-based speaker id the way transcripts show it.
func SpeakerLabel(id int) string {
	return fmt.Sprintf("Speaker %d", id+1)
}

// ChunkDescriptor references one audio window. Consecutive windows overlap.
type ChunkDescriptor struct {
	Index int     `json:"index"`
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (c ChunkDescriptor) Duration() float64 { return c.End - c.Start }

// Transcript is the reassembled output of the chunked pipeline.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Speakers int       `json:"speakers"`
	Chunks   int       `json:"chunks"`
	Failed   int       `json:"failed_chunks"`
}
