package services

import (
	"fmt"
	"log/slog"
	"sync"

	"genforge/internal/core/domain"
)

// trackedJob is the tracker's private record of one in-flight job. The
// target here is the live adjusted one; the domain.Job struct handed in at
// admission is never retained, so sibling shifts cannot race against
// readers of that struct.
type trackedJob struct {
	id     domain.JobID
	file   string
	target domain.Range
}

// JobTracker is the per-file admission gate. It bounds concurrency, rejects
// overlapping targets, and keeps every in-flight job's target current as
// earlier jobs finish and shift the document underneath it.
//
// One mutex guards all files. Holds are short (map lookups and integer
// arithmetic only), so the global lock never becomes a cross-file bottleneck
// in practice.
type JobTracker struct {
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]map[domain.JobID]*trackedJob
	byID  map[domain.JobID]*trackedJob
}

func NewJobTracker(logger *slog.Logger) *JobTracker {
	return &JobTracker{
		logger: logger.With("component", "job_tracker"),
		files:  make(map[string]map[domain.JobID]*trackedJob),
		byID:   make(map[domain.JobID]*trackedJob),
	}
}

// Admit registers the job in its file's set, or rejects it with a
// *domain.AdmissionError. Rejection is side-effect-free. On admission the
// job transitions Pending→Running; the tracker copies what it needs and
// does not keep a reference to the struct.
func (t *JobTracker) Admit(job *domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fileJobs := t.files[job.File]
	if len(fileJobs) >= domain.MaxConcurrentJobsPerFile {
		return &domain.AdmissionError{
			Reason: domain.RejectLimitExceeded,
			Detail: fmt.Sprintf("maximum concurrent generations (%d) reached for this file", domain.MaxConcurrentJobsPerFile),
		}
	}
	for _, other := range fileJobs {
		if job.Target.Overlaps(other.target) {
			return &domain.AdmissionError{
				Reason: domain.RejectOverlap,
				Detail: fmt.Sprintf("target overlaps in-flight generation %s at line %d", other.id, other.target.Start.Line),
			}
		}
	}

	if fileJobs == nil {
		fileJobs = make(map[domain.JobID]*trackedJob)
		t.files[job.File] = fileJobs
	}
	job.State = domain.JobStateRunning
	tracked := &trackedJob{id: job.ID, file: job.File, target: job.Target}
	fileJobs[job.ID] = tracked
	t.byID[job.ID] = tracked

	t.logger.Info("job admitted",
		"job_id", job.ID,
		"file", job.File,
		"line", job.Target.Start.Line,
		"active", len(fileJobs))
	return nil
}

// Release removes the job from its file's set. Calling it twice for the
// same id is a no-op, to tolerate duplicate completion signals.
func (t *JobTracker) Release(id domain.JobID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)

	fileJobs := t.files[tracked.file]
	delete(fileJobs, id)
	if len(fileJobs) == 0 {
		delete(t.files, tracked.file)
	}
	t.logger.Info("job released", "job_id", id, "file", tracked.file, "remaining", len(fileJobs))
}

// PropagateShift adds lineDelta to the adjusted target of every remaining
// job in the file whose target starts at or after editStartLine. Jobs
// strictly before the edit are untouched, as is completedID itself (its
// edit is the one being accounted for).
func (t *JobTracker) PropagateShift(file string, completedID domain.JobID, editStartLine, lineDelta int) {
	if lineDelta == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tracked := range t.files[file] {
		if id == completedID {
			continue
		}
		if tracked.target.Start.Line < editStartLine {
			continue
		}
		old := tracked.target.Start.Line
		tracked.target = tracked.target.Shift(lineDelta)
		t.logger.Debug("job target shifted",
			"job_id", id, "from", old, "to", tracked.target.Start.Line, "delta", lineDelta)
	}
}

// AdjustedTarget returns the job's current target. Callers must not cache
// the result across document edits.
func (t *JobTracker) AdjustedTarget(id domain.JobID) (domain.Range, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.byID[id]
	if !ok {
		return domain.Range{}, false
	}
	return tracked.target, true
}

// FindByTarget returns the id of the job in file whose adjusted target
// spans line.
func (t *JobTracker) FindByTarget(file string, line int) (domain.JobID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tracked := range t.files[file] {
		if tracked.target.Start.Line <= line && line <= tracked.target.LastLine() {
			return id, true
		}
	}
	return "", false
}

// ActiveCount reports how many jobs are in flight for the file.
func (t *JobTracker) ActiveCount(file string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files[file])
}
