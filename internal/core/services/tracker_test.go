package services

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"genforge/internal/core/domain"
)

func testTracker() *JobTracker {
	return NewJobTracker(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func pointJob(id, file string, line int) *domain.Job {
	return &domain.Job{
		ID:     domain.JobID(id),
		File:   file,
		Kind:   domain.TargetPoint,
		Target: domain.PointRange(line, 0),
	}
}

func rangeJob(id, file string, startLine, endLine int) *domain.Job {
	return &domain.Job{
		ID:   domain.JobID(id),
		File: file,
		Kind: domain.TargetRange,
		Target: domain.Range{
			Start: domain.Position{Line: startLine},
			End:   domain.Position{Line: endLine},
		},
	}
}

func TestJobTracker_AdmitAndRelease(t *testing.T) {
	tracker := testTracker()

	job := pointJob("job1", "/src/main.go", 10)
	err := tracker.Admit(job)
	assert.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, job.State)
	assert.Equal(t, 1, tracker.ActiveCount("/src/main.go"))

	tracker.Release(job.ID)
	assert.Equal(t, 0, tracker.ActiveCount("/src/main.go"))
}

func TestJobTracker_PerFileLimit(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	for i := 0; i < domain.MaxConcurrentJobsPerFile; i++ {
		job := pointJob(fmt.Sprintf("job%d", i), file, i*10)
		assert.NoError(t, tracker.Admit(job))
	}
	assert.Equal(t, domain.MaxConcurrentJobsPerFile, tracker.ActiveCount(file))

	extra := pointJob("job-extra", file, 500)
	err := tracker.Admit(extra)
	var admErr *domain.AdmissionError
	if assert.True(t, errors.As(err, &admErr)) {
		assert.Equal(t, domain.RejectLimitExceeded, admErr.Reason)
	}
	// Rejection has no side effects.
	assert.Equal(t, domain.MaxConcurrentJobsPerFile, tracker.ActiveCount(file))

	// A different file is unaffected by the first file's saturation.
	assert.NoError(t, tracker.Admit(pointJob("other", "/src/other.go", 0)))
}

func TestJobTracker_OverlapRejection(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	assert.NoError(t, tracker.Admit(rangeJob("range1", file, 10, 20)))

	cases := []struct {
		name string
		job  *domain.Job
	}{
		{"range sharing a line", rangeJob("range2", file, 19, 25)},
		{"point inside range span", pointJob("point1", file, 15)},
		{"range enclosing the target", rangeJob("range3", file, 5, 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tracker.Admit(tc.job)
			var admErr *domain.AdmissionError
			if assert.True(t, errors.As(err, &admErr)) {
				assert.Equal(t, domain.RejectOverlap, admErr.Reason)
			}
		})
	}

	// Disjoint ranges coexist.
	assert.NoError(t, tracker.Admit(rangeJob("range4", file, 25, 30)))
}

func TestJobTracker_ZeroWidthOverlap(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	assert.NoError(t, tracker.Admit(pointJob("p1", file, 10)))

	// Same exact point collides.
	err := tracker.Admit(pointJob("p2", file, 10))
	var admErr *domain.AdmissionError
	if assert.True(t, errors.As(err, &admErr)) {
		assert.Equal(t, domain.RejectOverlap, admErr.Reason)
	}

	// Same line, different character: still zero-width, different point.
	p3 := &domain.Job{ID: "p3", File: file, Kind: domain.TargetPoint, Target: domain.PointRange(10, 4)}
	assert.NoError(t, tracker.Admit(p3))
}

func TestJobTracker_PropagateShift(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	jobA := pointJob("A", file, 15)
	jobB := pointJob("B", file, 5)
	jobC := pointJob("C", file, 25)
	assert.NoError(t, tracker.Admit(jobA))
	assert.NoError(t, tracker.Admit(jobB))
	assert.NoError(t, tracker.Admit(jobC))

	// B completes with a net +3 edit starting at line 0.
	tracker.PropagateShift(file, "B", 0, 3)
	tracker.Release("B")

	target, ok := tracker.AdjustedTarget("A")
	assert.True(t, ok)
	assert.Equal(t, 18, target.Start.Line)

	// C completes with +2 at line 10; A shifts again, B stays released.
	tracker.PropagateShift(file, "C", 10, 2)
	tracker.Release("C")

	target, ok = tracker.AdjustedTarget("A")
	assert.True(t, ok)
	assert.Equal(t, 20, target.Start.Line)
	_, ok = tracker.AdjustedTarget("B")
	assert.False(t, ok)
}

func TestJobTracker_ShiftSkipsJobsBeforeEdit(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	before := pointJob("before", file, 3)
	after := rangeJob("after", file, 20, 24)
	assert.NoError(t, tracker.Admit(before))
	assert.NoError(t, tracker.Admit(after))

	tracker.PropagateShift(file, "completed", 10, -2)

	target, _ := tracker.AdjustedTarget("before")
	assert.Equal(t, 3, target.Start.Line)
	target, _ = tracker.AdjustedTarget("after")
	assert.Equal(t, 18, target.Start.Line)
	assert.Equal(t, 22, target.End.Line)
}

func TestJobTracker_ReleaseIdempotent(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	assert.NoError(t, tracker.Admit(pointJob("j1", file, 1)))
	assert.NoError(t, tracker.Admit(pointJob("j2", file, 10)))

	tracker.Release("j1")
	tracker.Release("j1")

	assert.Equal(t, 1, tracker.ActiveCount(file))
	_, ok := tracker.AdjustedTarget("j2")
	assert.True(t, ok)
}

func TestJobTracker_FindByTarget(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	assert.NoError(t, tracker.Admit(rangeJob("r1", file, 10, 20)))

	id, ok := tracker.FindByTarget(file, 15)
	assert.True(t, ok)
	assert.Equal(t, domain.JobID("r1"), id)

	_, ok = tracker.FindByTarget(file, 30)
	assert.False(t, ok)
}

func TestJobTracker_ShiftDoesNotTouchAdmittedStruct(t *testing.T) {
	tracker := testTracker()
	file := "/src/main.go"

	job := pointJob("A", file, 15)
	assert.NoError(t, tracker.Admit(job))
	assert.NoError(t, tracker.Admit(pointJob("B", file, 5)))

	tracker.PropagateShift(file, "B", 0, 4)

	// The adjusted target lives in the tracker; the struct handed to
	// Admit keeps its admission-time target so holders of it never see a
	// concurrent mutation.
	assert.Equal(t, 15, job.Target.Start.Line)
	adjusted, ok := tracker.AdjustedTarget("A")
	assert.True(t, ok)
	assert.Equal(t, 19, adjusted.Start.Line)
}
