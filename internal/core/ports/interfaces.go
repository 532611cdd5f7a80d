package ports

import (
	"context"

	"genforge/internal/core/domain"
)

// Backend abstracts the external generation CLI (claude, opencode, amp, ...).
type Backend interface {
	// Name identifies the backend in logs and history records.
	Name() string

	// Generate runs one generation for the job. Cumulative stdout is
	// delivered through onProgress in order; the final answer is whatever
	// the process wrote to the job's scratch file, which the caller reads
	// after a nil return. Generate blocks until the process exits and never
	// invokes onProgress after it returns. A non-nil error carries the
	// process diagnostic (stderr, or accumulated output as fallback).
	Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(text string)) error
}

// HistoryRepository abstracts the persistent storage for finished
// generations (DuckDB). Implementations may be nil-safe no-ops when history
// is disabled.
type HistoryRepository interface {
	// SaveRecord persists one finished generation.
	SaveRecord(ctx context.Context, rec domain.GenerationRecord) error

	// ListRecords returns the most recent generations, newest first.
	ListRecords(ctx context.Context, limit int) ([]domain.GenerationRecord, error)

	Close() error
}
