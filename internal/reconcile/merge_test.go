package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"genforge/internal/core/domain"
)

func TestMergeThreeWay_DisjointChanges(t *testing.T) {
	base := "a\nb\nc\nd\n"
	yours := "a\nb\nc\nD\n"  // user changed d
	theirs := "a\nB\nc\nd\n" // generation changed b

	merged, err := mergeThreeWay(base, yours, theirs)
	assert.NoError(t, err)
	assert.Equal(t, "a\nB\nc\nD\n", merged)
}

func TestMergeThreeWay_IdenticalChangesCollapse(t *testing.T) {
	base := "a\nb\nc\n"
	both := "a\nX\nc\n"

	merged, err := mergeThreeWay(base, both, both)
	assert.NoError(t, err)
	assert.Equal(t, "a\nX\nc\n", merged)
}

func TestMergeThreeWay_OneSideUnchanged(t *testing.T) {
	base := "a\nb\nc\n"
	theirs := "a\nnew1\nnew2\nb\nc\n" // insertion at top

	merged, err := mergeThreeWay(base, base, theirs)
	assert.NoError(t, err)
	assert.Equal(t, theirs, merged)
}

func TestMergeThreeWay_Conflict(t *testing.T) {
	base := "a\nb\nc\n"
	yours := "a\nYOURS\nc\n"
	theirs := "a\nTHEIRS\nc\n"

	_, err := mergeThreeWay(base, yours, theirs)
	assert.ErrorIs(t, err, domain.ErrMergeAmbiguous)
}

func TestMergeThreeWay_DeletionVersusEdit(t *testing.T) {
	base := "a\nb\nc\n"
	yours := "a\nc\n"         // user deleted b
	theirs := "a\nB2\nc\n"    // generation edited b

	_, err := mergeThreeWay(base, yours, theirs)
	assert.ErrorIs(t, err, domain.ErrMergeAmbiguous)
}
