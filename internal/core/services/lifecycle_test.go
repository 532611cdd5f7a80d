package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/core/domain"
	"genforge/internal/reconcile"
)

// scriptedBackend fakes the external CLI: scripts are keyed by the job's
// original start line, registered before submission.
type scriptedBackend struct {
	mu      sync.Mutex
	scripts map[int]backendScript
}

type backendScript struct {
	gate     chan struct{} // when set, Generate blocks until closed
	progress []string
	output   string // written to the scratch path; empty skips the write
	err      error
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{scripts: make(map[int]backendScript)}
}

func (s *scriptedBackend) script(line int, sc backendScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[line] = sc
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(string)) error {
	s.mu.Lock()
	sc := s.scripts[job.OriginalTarget.Start.Line]
	s.mu.Unlock()

	if sc.gate != nil {
		select {
		case <-sc.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, p := range sc.progress {
		onProgress(p)
	}
	if sc.err != nil {
		return sc.err
	}
	if sc.output != "" {
		if err := os.WriteFile(job.ScratchPath, []byte(sc.output), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type lifecycleFixture struct {
	lifecycle *GenerationLifecycle
	tracker   *JobTracker
	documents *DocumentStore
	backend   *scriptedBackend
	events    <-chan Event
	file      string
}

func newLifecycleFixture(t *testing.T, docText string) *lifecycleFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tracker := NewJobTracker(logger)
	documents := NewDocumentStore(logger)
	scratch := NewScratchManager(logger, false)
	bus := NewEventBus(logger)
	backend := newScriptedBackend()
	engine := reconcile.NewEngine(logger, domain.ReconcileConfig{
		EchoLineTolerance:    5,
		EchoDeclarationCount: 2,
	})

	lifecycle := NewGenerationLifecycle(logger, tracker, documents, scratch, bus, backend, engine, nil, 8)

	file := filepath.Join(t.TempDir(), "main.go")
	documents.Open(file, docText, 1, "go")

	events, unsub := bus.SubscribeGlobal()
	t.Cleanup(unsub)

	return &lifecycleFixture{
		lifecycle: lifecycle,
		tracker:   tracker,
		documents: documents,
		backend:   backend,
		events:    events,
		file:      file,
	}
}

func waitCompletion(t *testing.T, events <-chan Event, jobID domain.JobID) CompletionPayload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type != EventTypeCompleted || evt.JobID != jobID {
				continue
			}
			var payload CompletionPayload
			require.NoError(t, json.Unmarshal([]byte(evt.Data), &payload))
			return payload
		case <-deadline:
			t.Fatalf("timed out waiting for completion of %s", jobID)
		}
	}
}

func TestLifecycle_PointJobEndToEnd(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	fx.backend.script(0, backendScript{
		progress: []string{"analyzing", "analyzing\nwriting"},
		output:   "func alpha() {\n\treal()\n}",
	})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	payload := waitCompletion(t, fx.events, job.ID)
	assert.True(t, payload.Success)
	assert.Empty(t, payload.Error)

	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, "func alpha() {\n\treal()\n}\n", got.Text)
	assert.Equal(t, 2, got.Version)

	// Slot reclaimed, scratch removed, terminal state recorded.
	assert.Equal(t, 0, fx.tracker.ActiveCount(fx.file))
	_, statErr := os.Stat(job.ScratchPath)
	assert.True(t, os.IsNotExist(statErr))
	snapshot, ok := fx.lifecycle.Job(job.ID)
	assert.True(t, ok)
	assert.Equal(t, domain.JobStateCompleted, snapshot.State)
}

func TestLifecycle_ProgressCarriesAdjustedLine(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	fx.backend.script(0, backendScript{
		progress: []string{"step one", "step one\nstep two"},
		output:   "func alpha() {\n\treal()\n}",
	})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	var previews []string
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case evt := <-fx.events:
			if evt.JobID != job.ID {
				continue
			}
			switch evt.Type {
			case EventTypeProgress:
				var p ProgressPayload
				require.NoError(t, json.Unmarshal([]byte(evt.Data), &p))
				previews = append(previews, p.Preview)
				assert.Equal(t, fx.file, p.File)
			case EventTypeCompleted:
				done = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
	// Per-job ordering: previews arrive in emission order, completion last.
	assert.Equal(t, []string{"step one", "step one\nstep two"}, previews)
}

func TestLifecycle_BackendFailure(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	fx.backend.script(0, backendScript{err: errors.New("claude failed: rate limited")})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	payload := waitCompletion(t, fx.events, job.ID)
	assert.False(t, payload.Success)
	assert.Contains(t, payload.Error, "rate limited")

	// No edit was applied and the slot was reclaimed.
	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, doc, got.Text)
	assert.Equal(t, 0, fx.tracker.ActiveCount(fx.file))

	snapshot, ok := fx.lifecycle.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStateFailed, snapshot.State)
	require.NotNil(t, snapshot.Result)
	assert.False(t, snapshot.Result.Success)
	assert.Contains(t, snapshot.Result.Diagnostic, "rate limited")
}

func TestLifecycle_EmptyScratchIsFailure(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	// Clean exit, but the backend never wrote the scratch file.
	fx.backend.script(0, backendScript{output: ""})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	payload := waitCompletion(t, fx.events, job.ID)
	assert.False(t, payload.Success)

	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, doc, got.Text)
}

func TestLifecycle_SiblingShiftPropagation(t *testing.T) {
	doc := "func alpha() {\n\ta_stub()\n}\n\nfunc beta() {\n\tb_stub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	gateA := make(chan struct{})
	gateB := make(chan struct{})
	// B targets alpha at line 0 and grows it by two lines; A targets beta
	// at line 4 and must land correctly after the shift.
	fx.backend.script(0, backendScript{
		gate:   gateB,
		output: "func alpha() {\n\tx()\n\ty()\n\tz()\n}",
	})
	fx.backend.script(4, backendScript{
		gate:   gateA,
		output: "func beta() {\n\tnew_beta()\n}",
	})

	jobB, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)
	jobA, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fx.tracker.ActiveCount(fx.file))

	// Let B finish first; its +2 edit at line 0 must shift A's target.
	close(gateB)
	payloadB := waitCompletion(t, fx.events, jobB.ID)
	assert.True(t, payloadB.Success)

	adjusted, ok := fx.tracker.AdjustedTarget(jobA.ID)
	require.True(t, ok)
	assert.Equal(t, 6, adjusted.Start.Line)

	close(gateA)
	payloadA := waitCompletion(t, fx.events, jobA.ID)
	assert.True(t, payloadA.Success)

	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, "func alpha() {\n\tx()\n\ty()\n\tz()\n}\n\nfunc beta() {\n\tnew_beta()\n}\n", got.Text)
	assert.Equal(t, 0, fx.tracker.ActiveCount(fx.file))
}

func TestLifecycle_SnapshotsStableAcrossSiblingShifts(t *testing.T) {
	doc := "func alpha() {\n\ta_stub()\n}\n\nfunc beta() {\n\tb_stub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	gateA := make(chan struct{})
	gateB := make(chan struct{})
	fx.backend.script(0, backendScript{
		gate:   gateB,
		output: "func alpha() {\n\tx()\n\ty()\n\tz()\n}",
	})
	fx.backend.script(4, backendScript{
		gate:     gateA,
		progress: []string{"thinking", "thinking\nwriting"},
		output:   "func beta() {\n\tnew_beta()\n}",
	})

	jobB, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)
	jobA, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 4},
	})
	require.NoError(t, err)

	// Hammer the snapshot accessor while B's completion shifts A's target
	// underneath it; the race detector sees any unsynchronized access.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if snap, ok := fx.lifecycle.Job(jobA.ID); ok {
						_ = snap.Target.Start.Line
					}
				}
			}
		}()
	}

	close(gateB)
	payloadB := waitCompletion(t, fx.events, jobB.ID)
	assert.True(t, payloadB.Success)

	// A's previews are emitted after the +2 shift landed, so every one of
	// them must carry the adjusted line.
	close(gateA)
	var lines []int
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case evt := <-fx.events:
			if evt.JobID != jobA.ID {
				continue
			}
			switch evt.Type {
			case EventTypeProgress:
				var p ProgressPayload
				require.NoError(t, json.Unmarshal([]byte(evt.Data), &p))
				lines = append(lines, p.Line)
			case EventTypeCompleted:
				done = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
	close(stop)
	readers.Wait()

	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 6, line)
	}

	// The handle returned by Submit is an admission-time snapshot and
	// never moves; the terminal snapshot records the final adjusted target.
	assert.Equal(t, 4, jobA.Target.Start.Line)
	snap, ok := fx.lifecycle.Job(jobA.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStateCompleted, snap.State)
	assert.Equal(t, 4, snap.OriginalTarget.Start.Line)
	assert.Equal(t, 6, snap.Target.Start.Line)
}

func TestLifecycle_EditorChangeDuringGenerationIsKept(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	gate := make(chan struct{})
	fx.backend.script(0, backendScript{gate: gate, output: "func alpha() {\n\treal()\n}"})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	// The editor keeps typing below the target while the backend runs; the
	// completion must reconcile against the newer text, not its snapshot.
	require.NoError(t, fx.documents.Change(fx.file, 2, []ContentChange{
		{Text: "func alpha() {\n\tstub()\n}\n\nvar marker = 1\n"},
	}))

	close(gate)
	payload := waitCompletion(t, fx.events, job.ID)
	assert.True(t, payload.Success)

	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, "func alpha() {\n\treal()\n}\n\nvar marker = 1\n", got.Text)
	assert.Equal(t, 3, got.Version)
}

func TestLifecycle_RangeJob(t *testing.T) {
	doc := "keep0\nold1\nold2\nkeep3\n"
	fx := newLifecycleFixture(t, doc)

	fx.backend.script(1, backendScript{output: "fresh1\nfresh2\nfresh3\n"})

	job, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetRange,
		Start: domain.Position{Line: 1},
		End:   domain.Position{Line: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "old1\nold2\n", job.SelectedText)

	payload := waitCompletion(t, fx.events, job.ID)
	assert.True(t, payload.Success)

	got, _ := fx.documents.Get(fx.file)
	assert.Equal(t, "keep0\nfresh1\nfresh2\nfresh3\nkeep3\n", got.Text)
}

func TestLifecycle_RejectionsAreImmediate(t *testing.T) {
	doc := "func alpha() {\n\tstub()\n}\n"
	fx := newLifecycleFixture(t, doc)

	gate := make(chan struct{})
	defer fx.lifecycle.Wait()
	defer close(gate)
	fx.backend.script(0, backendScript{gate: gate, output: "func alpha() {\n\tx()\n}"})

	_, err := fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	require.NoError(t, err)

	// Same point while the first is in flight: Overlap.
	_, err = fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  fx.file,
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	var admErr *domain.AdmissionError
	require.True(t, errors.As(err, &admErr))
	assert.Equal(t, domain.RejectOverlap, admErr.Reason)

	// Unknown document.
	_, err = fx.lifecycle.Submit(context.Background(), GenerationRequest{
		File:  "/no/such/file.go",
		Kind:  domain.TargetPoint,
		Start: domain.Position{Line: 0},
	})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
