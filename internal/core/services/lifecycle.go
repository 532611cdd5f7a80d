package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"genforge/internal/core/domain"
	"genforge/internal/core/ports"
	"genforge/internal/reconcile"
)

// GenerationRequest is an admission request from the protocol layer.
type GenerationRequest struct {
	File      string            `json:"file"`
	Kind      domain.TargetKind `json:"kind"`
	Start     domain.Position   `json:"start"`
	End       domain.Position   `json:"end"`
	PendingID string            `json:"pending_id,omitempty"`
}

// ProgressPayload is the progress notification body, carrying the job's
// current adjusted line so previews stay positioned correctly even after
// sibling completions shifted the target.
type ProgressPayload struct {
	JobID     domain.JobID `json:"job_id"`
	File      string       `json:"file"`
	Line      int          `json:"line"`
	Preview   string       `json:"preview"`
	PendingID string       `json:"pending_id,omitempty"`
}

// CompletionPayload is the terminal notification body, emitted exactly once
// per job.
type CompletionPayload struct {
	JobID     domain.JobID `json:"job_id"`
	File      string       `json:"file"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	PendingID string       `json:"pending_id,omitempty"`
}

// progressBuffer bounds the per-job relay channel. Full buffers drop the
// newest preview; ordering of delivered previews is preserved.
const progressBuffer = 64

// GenerationLifecycle is the per-job state machine: admission, worker
// dispatch, progress relaying, reconciliation, edit apply, shift
// propagation and release. Submission is non-blocking; each admitted job
// runs on its own goroutine, throttled only by the global process cap.
type GenerationLifecycle struct {
	logger    *slog.Logger
	tracker   *JobTracker
	documents *DocumentStore
	scratch   *ScratchManager
	bus       *EventBus
	engine    *reconcile.Engine
	history   ports.HistoryRepository
	procSem   *semaphore.Weighted

	// backend is swappable at runtime: config reloads install a new one
	// without touching in-flight jobs.
	backendMu sync.RWMutex
	backend   ports.Backend

	mu   sync.Mutex
	jobs map[domain.JobID]*domain.Job // all jobs ever submitted, and their terminal states

	// applyMu serializes reconcile-and-apply so two completions against the
	// same document cannot interleave between snapshot and write.
	applyMu sync.Mutex

	wg sync.WaitGroup
}

func NewGenerationLifecycle(
	logger *slog.Logger,
	tracker *JobTracker,
	documents *DocumentStore,
	scratch *ScratchManager,
	bus *EventBus,
	backend ports.Backend,
	engine *reconcile.Engine,
	history ports.HistoryRepository,
	maxProcesses int64,
) *GenerationLifecycle {
	if maxProcesses <= 0 {
		maxProcesses = 32
	}
	return &GenerationLifecycle{
		logger:    logger.With("component", "lifecycle"),
		tracker:   tracker,
		documents: documents,
		scratch:   scratch,
		bus:       bus,
		backend:   backend,
		engine:    engine,
		history:   history,
		procSem:   semaphore.NewWeighted(maxProcesses),
		jobs:      make(map[domain.JobID]*domain.Job),
	}
}

// Submit admits the request and dispatches its worker. It returns as soon
// as admission is decided; generation runs in the background. Rejections
// surface as *domain.AdmissionError.
func (l *GenerationLifecycle) Submit(ctx context.Context, req GenerationRequest) (*domain.Job, error) {
	doc, ok := l.documents.Get(req.File)
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}

	target := domain.Range{Start: req.Start, End: req.End}
	if req.Kind == domain.TargetPoint {
		target = domain.PointRange(req.Start.Line, req.Start.Character)
	}

	job := &domain.Job{
		ID:              domain.JobID(uuid.New().String()),
		PendingID:       req.PendingID,
		File:            req.File,
		Kind:            req.Kind,
		OriginalTarget:  target,
		Target:          target,
		State:           domain.JobStatePending,
		Baseline:        doc.Text,
		BaselineVersion: doc.Version,
		LanguageID:      doc.LanguageID,
		CreatedAt:       time.Now(),
	}
	job.ScratchPath = l.scratch.PathFor(req.File, job.ID)

	if req.Kind == domain.TargetPoint {
		job.Signature = captureSignature(doc.Text, req.Start.Line)
	} else {
		job.SelectedText = sliceRange(doc.Text, target)
	}

	if err := l.tracker.Admit(job); err != nil {
		return nil, err
	}
	l.remember(job)

	// The worker runs on an immutable admission-time copy; the live struct
	// in l.jobs is only touched under l.mu, and shifting targets live in
	// the tracker.
	snapshot := *job

	l.wg.Add(1)
	// The worker outlives the submitting request: cancellation is
	// caller-side only, the job always runs to completion.
	go l.runJob(context.WithoutCancel(ctx), snapshot)

	l.logger.Info("generation dispatched",
		"job_id", snapshot.ID,
		"file", snapshot.File,
		"kind", snapshot.Kind,
		"line", snapshot.Target.Start.Line)
	return &snapshot, nil
}

// Job returns the last known snapshot of a job, including terminal states
// after the tracker has released it.
func (l *GenerationLifecycle) Job(id domain.JobID) (domain.Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	snapshot := *job
	// Adjusted targets are only readable through the tracker's accessor
	// while the job is active.
	if adjusted, ok := l.tracker.AdjustedTarget(id); ok {
		snapshot.Target = adjusted
	}
	return snapshot, true
}

// Wait blocks until all in-flight workers have finished. Used on shutdown.
func (l *GenerationLifecycle) Wait() {
	l.wg.Wait()
}

// SetBackend swaps the generation backend. A generation already handed to
// a backend finishes on that backend.
func (l *GenerationLifecycle) SetBackend(backend ports.Backend) {
	l.backendMu.Lock()
	defer l.backendMu.Unlock()
	l.backend = backend
	l.logger.Info("backend swapped", "backend", backend.Name())
}

// BackendName reports the active backend.
func (l *GenerationLifecycle) BackendName() string {
	return l.currentBackend().Name()
}

func (l *GenerationLifecycle) currentBackend() ports.Backend {
	l.backendMu.RLock()
	defer l.backendMu.RUnlock()
	return l.backend
}

func (l *GenerationLifecycle) remember(job *domain.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.ID] = job
}

// setResult records the terminal state on the remembered job, fixing the
// final adjusted target into the struct now that the tracker has forgotten
// it.
func (l *GenerationLifecycle) setResult(id domain.JobID, state domain.JobState, target domain.Range, res domain.GenerationResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return
	}
	job.State = state
	job.Target = target
	job.Result = &res
}

// runJob drives one generation end to end. Every failure path still
// releases the tracker slot and emits exactly one completion event; a
// failing job never affects its siblings.
//
// job is the admission-time snapshot. The worker never reads the shared
// struct; the current adjusted target always comes from the tracker's
// accessor.
func (l *GenerationLifecycle) runJob(ctx context.Context, job domain.Job) {
	defer l.wg.Done()
	startedAt := time.Now()

	if err := l.procSem.Acquire(ctx, 1); err != nil {
		l.finishFailed(job, startedAt, fmt.Errorf("process slot: %w", err))
		return
	}
	defer l.procSem.Release(1)

	// Progress relay: the backend reader pushes cumulative previews into a
	// per-job channel and a dedicated goroutine publishes them, picking up
	// the latest adjusted line per event. The channel preserves per-job
	// ordering; completion is published only after the relay drains.
	progressCh := make(chan string, progressBuffer)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for preview := range progressCh {
			l.publishProgress(job, preview)
		}
	}()

	err := l.currentBackend().Generate(ctx, job, job.Baseline, func(preview string) {
		select {
		case progressCh <- preview:
		default:
			// Preview stream outpaced the relay; drop rather than block
			// the process reader.
		}
	})
	close(progressCh)
	<-relayDone

	if err != nil {
		l.scratch.Cleanup(job.ScratchPath)
		l.finishFailed(job, startedAt, err)
		return
	}

	generated, readErr := l.scratch.Read(job.ScratchPath)
	l.scratch.Cleanup(job.ScratchPath)
	if readErr != nil {
		l.finishFailed(job, startedAt, readErr)
		return
	}

	edit, before, after, err := l.applyEdit(job, generated)
	if err != nil {
		l.finishFailed(job, startedAt, err)
		return
	}

	final, ok := l.tracker.AdjustedTarget(job.ID)
	if !ok {
		final = job.Target
	}
	l.tracker.PropagateShift(job.File, job.ID, edit.Range.Start.Line, edit.LineDelta)
	l.tracker.Release(job.ID)
	l.setResult(job.ID, domain.JobStateCompleted, final, domain.GenerationResult{
		Text:    generated,
		Success: true,
	})

	l.publishCompletion(job, true, "")
	l.recordHistory(job, startedAt, domain.JobStateCompleted, "", before, after)

	l.logger.Info("generation completed",
		"job_id", job.ID,
		"file", job.File,
		"line_delta", edit.LineDelta,
		"duration", time.Since(startedAt).String())
}

// applyEditAttempts bounds retries when an editor change lands between the
// document snapshot and the write computed from it.
const applyEditAttempts = 3

// applyEdit reconciles the generated text against the live document and
// applies the resulting minimal edit through the document store. The write
// carries the snapshot's version as its base, so an editor change that
// sneaks in between snapshot and write is rejected by the store and the
// reconcile is redone against the newer text.
func (l *GenerationLifecycle) applyEdit(job domain.Job, generated string) (reconcile.Edit, string, string, error) {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < applyEditAttempts; attempt++ {
		adjusted, ok := l.tracker.AdjustedTarget(job.ID)
		if !ok {
			return reconcile.Edit{}, "", "", domain.ErrJobNotFound
		}
		doc, ok := l.documents.Get(job.File)
		if !ok {
			return reconcile.Edit{}, "", "", domain.ErrDocumentNotFound
		}

		edit, err := l.engine.Reconcile(&job, doc.Text, adjusted, generated)
		if err != nil {
			return reconcile.Edit{}, "", "", err
		}

		r := edit.Range
		err = l.documents.ChangeFromBase(job.File, doc.Version, []ContentChange{{Range: &r, Text: edit.NewText}})
		if errors.Is(err, domain.ErrVersionConflict) {
			l.logger.Debug("document moved under completion, reapplying",
				"job_id", job.ID, "file", job.File, "base_version", doc.Version)
			lastErr = err
			continue
		}
		if err != nil {
			return reconcile.Edit{}, "", "", err
		}
		return edit, doc.Text, edit.Apply(doc.Text), nil
	}
	return reconcile.Edit{}, "", "", fmt.Errorf("document changed %d times during apply: %w", applyEditAttempts, lastErr)
}

func (l *GenerationLifecycle) finishFailed(job domain.Job, startedAt time.Time, cause error) {
	final, ok := l.tracker.AdjustedTarget(job.ID)
	if !ok {
		final = job.Target
	}
	l.tracker.Release(job.ID)
	l.setResult(job.ID, domain.JobStateFailed, final, domain.GenerationResult{
		Diagnostic: cause.Error(),
	})
	l.publishCompletion(job, false, cause.Error())
	l.recordHistory(job, startedAt, domain.JobStateFailed, cause.Error(), "", "")

	l.logger.Warn("generation failed",
		"job_id", job.ID,
		"file", job.File,
		"error", cause)
}

func (l *GenerationLifecycle) publishProgress(job domain.Job, preview string) {
	line := job.Target.Start.Line
	if adjusted, ok := l.tracker.AdjustedTarget(job.ID); ok {
		line = adjusted.Start.Line
	}
	payload, _ := json.Marshal(ProgressPayload{
		JobID:     job.ID,
		File:      job.File,
		Line:      line,
		Preview:   preview,
		PendingID: job.PendingID,
	})
	l.bus.Publish(Event{
		JobID:     job.ID,
		File:      job.File,
		Type:      EventTypeProgress,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (l *GenerationLifecycle) publishCompletion(job domain.Job, success bool, errMsg string) {
	payload, _ := json.Marshal(CompletionPayload{
		JobID:     job.ID,
		File:      job.File,
		Success:   success,
		Error:     errMsg,
		PendingID: job.PendingID,
	})
	l.bus.Publish(Event{
		JobID:     job.ID,
		File:      job.File,
		Type:      EventTypeCompleted,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (l *GenerationLifecycle) recordHistory(job domain.Job, startedAt time.Time, state domain.JobState, diagnostic, before, after string) {
	if l.history == nil {
		return
	}
	preview := ""
	if diagnostic == "" {
		if p, err := reconcile.UnifiedPreview(job.File, before, after); err == nil {
			preview = p
		}
	}
	rec := domain.GenerationRecord{
		ID:          string(job.ID),
		File:        job.File,
		Kind:        job.Kind,
		State:       state,
		Backend:     l.currentBackend().Name(),
		Diagnostic:  diagnostic,
		DiffPreview: preview,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.history.SaveRecord(ctx, rec); err != nil {
		l.logger.Warn("failed to record generation history", "job_id", job.ID, "error", err)
	}
}

// captureSignature grabs the declaration line at the target as a textual
// anchor for later boundary location. A blank target line falls back to
// the nearest non-blank line above.
func captureSignature(docText string, line int) string {
	lines := strings.Split(docText, "\n")
	if line >= len(lines) {
		line = len(lines) - 1
	}
	for i := line; i >= 0 && i > line-5; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// sliceRange extracts the exact selected text for a range job.
func sliceRange(docText string, r domain.Range) string {
	start := positionToOffset(docText, r.Start)
	end := positionToOffset(docText, r.End)
	if end < start {
		start, end = end, start
	}
	return docText[start:end]
}
