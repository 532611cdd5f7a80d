package domain

import "time"

// GenerationRecord is one finished job as stored in the history database.
// History is diagnostics only: it is never read back into tracker state.
type GenerationRecord struct {
	ID          string     `json:"id"`
	File        string     `json:"file"`
	Kind        TargetKind `json:"kind"`
	State       JobState   `json:"state"`
	Backend     string     `json:"backend"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
	DiffPreview string     `json:"diff_preview,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}
