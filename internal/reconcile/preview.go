package reconcile

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const previewContextLines = 3

// UnifiedPreview renders a unified diff of the edit for history records and
// notifications. One hunk around the changed span is enough; the edit is a
// single-range replacement by construction.
func UnifiedPreview(file, before, after string) (string, error) {
	if before == after {
		return "", nil
	}

	oldLines := splitKeepAll(before)
	newLines := splitKeepAll(after)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	ctxStart := prefix - previewContextLines
	if ctxStart < 0 {
		ctxStart = 0
	}
	oldEnd := len(oldLines) - suffix
	newEnd := len(newLines) - suffix
	ctxOldEnd := oldEnd + previewContextLines
	if ctxOldEnd > len(oldLines) {
		ctxOldEnd = len(oldLines)
	}

	var body strings.Builder
	for i := ctxStart; i < prefix; i++ {
		fmt.Fprintf(&body, " %s\n", oldLines[i])
	}
	for i := prefix; i < oldEnd; i++ {
		fmt.Fprintf(&body, "-%s\n", oldLines[i])
	}
	for i := prefix; i < newEnd; i++ {
		fmt.Fprintf(&body, "+%s\n", newLines[i])
	}
	for i := oldEnd; i < ctxOldEnd; i++ {
		fmt.Fprintf(&body, " %s\n", oldLines[i])
	}

	fd := &diff.FileDiff{
		OrigName: "a/" + file,
		NewName:  "b/" + file,
		Hunks: []*diff.Hunk{{
			OrigStartLine: int32(ctxStart + 1),
			OrigLines:     int32(ctxOldEnd - ctxStart),
			NewStartLine:  int32(ctxStart + 1),
			NewLines:      int32(ctxOldEnd - ctxStart + (newEnd - prefix) - (oldEnd - prefix)),
			Body:          []byte(body.String()),
		}},
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render diff preview: %w", err)
	}
	return string(out), nil
}
