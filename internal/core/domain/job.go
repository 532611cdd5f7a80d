package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobID string

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateReleased  JobState = "RELEASED"
)

// Terminal reports whether the state is final. A terminal job never emits
// further events.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// MaxConcurrentJobsPerFile bounds the number of non-released jobs per file.
const MaxConcurrentJobsPerFile = 10

// Job is one in-flight or completed generation request.
type Job struct {
	ID        JobID      `json:"id"`
	PendingID string     `json:"pending_id,omitempty"` // client-side placeholder correlation
	File      string     `json:"file"`
	Kind      TargetKind `json:"kind"`

	// OriginalTarget is retained for diagnostics only. Target holds the
	// admission-time target; while the job is in flight the current
	// adjusted target lives in the tracker and is only readable through
	// its accessor, and the final adjusted value is written back here on
	// completion.
	OriginalTarget Range `json:"original_target"`
	Target         Range `json:"target"`

	State JobState `json:"state"`

	// Signature is the declaration line captured at admission, used by the
	// reconciliation engine as a textual anchor for point jobs.
	Signature string `json:"signature,omitempty"`
	// SelectedText is the exact selection captured at admission (range jobs).
	SelectedText string `json:"selected_text,omitempty"`

	// Baseline is the full document snapshot taken at admission. It is the
	// "Base" input of the 3-way merge fallback and is never mutated.
	Baseline        string `json:"-"`
	BaselineVersion int    `json:"baseline_version"`
	LanguageID      string `json:"language_id,omitempty"`

	// ScratchPath is where the backend is instructed to write its answer.
	ScratchPath string `json:"scratch_path,omitempty"`

	// Result is set once the job reaches a terminal state.
	Result *GenerationResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GenerationResult is the output of one backend run.
type GenerationResult struct {
	Text       string `json:"text,omitempty"`
	Success    bool   `json:"success"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// RejectionReason classifies why admission was refused.
type RejectionReason string

const (
	RejectLimitExceeded RejectionReason = "LIMIT_EXCEEDED"
	RejectOverlap       RejectionReason = "OVERLAP"
)

// AdmissionError is returned when a request is rejected before a job is
// created. Rejection is side-effect-free.
type AdmissionError struct {
	Reason RejectionReason
	Detail string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%s): %s", e.Reason, e.Detail)
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrVersionConflict   = errors.New("document version conflict")
	ErrMergeAmbiguous    = errors.New("merge ambiguous: boundary could not be resolved")
	ErrScratchUnreadable = errors.New("backend exited cleanly but scratch output is missing or empty")
)
