package reconcile

import (
	"strings"

	"genforge/internal/core/domain"
)

// Edit is a minimal single-range replacement against one document version.
// Whole-document rewrites are never produced, so the editor's incremental
// sync and version-based conflict detection stay meaningful.
type Edit struct {
	Range   domain.Range `json:"range"`
	NewText string       `json:"new_text"`
	// LineDelta is the net number of lines the edit adds (negative for
	// removals), used for shift propagation to sibling jobs.
	LineDelta int `json:"line_delta"`
}

// replaceLineSpan builds the edit that replaces lines [startLine, endLine]
// inclusive with newText. The range runs from the start of startLine to the
// start of the line after endLine; when endLine is the document's last line
// the range ends at that line's end instead, so the edit never reads past
// end-of-file.
func replaceLineSpan(docText string, startLine, endLine int, newText string) Edit {
	lines := strings.Split(docText, "\n")
	lastIdx := len(lines) - 1
	lastReal := lastIdx
	if lastReal > 0 && lines[lastReal] == "" {
		// Trailing newline produces an empty final segment.
		lastReal--
	}
	if endLine > lastReal {
		endLine = lastReal
	}

	start := domain.Position{Line: startLine, Character: 0}
	var end domain.Position
	replacement := newText
	if endLine >= lastReal && lastReal == lastIdx {
		// Document has no trailing newline: end at the last line's end and
		// keep the replacement unterminated to match.
		end = domain.Position{Line: endLine, Character: len(lines[endLine])}
		replacement = strings.TrimSuffix(replacement, "\n")
	} else {
		end = domain.Position{Line: endLine + 1, Character: 0}
		if !strings.HasSuffix(replacement, "\n") {
			replacement += "\n"
		}
	}

	return buildEdit(docText, domain.Range{Start: start, End: end}, replacement)
}

// replaceRange builds the edit for a selection job: the adjusted [start,
// end) range is replaced verbatim, preserving everything outside it
// byte-for-byte.
func replaceRange(docText string, target domain.Range, newText string) Edit {
	return buildEdit(docText, target, newText)
}

func buildEdit(docText string, r domain.Range, newText string) Edit {
	start := offsetOf(docText, r.Start)
	end := offsetOf(docText, r.End)
	if end < start {
		start, end = end, start
	}
	deleted := docText[start:end]
	return Edit{
		Range:     r,
		NewText:   newText,
		LineDelta: strings.Count(newText, "\n") - strings.Count(deleted, "\n"),
	}
}

// Apply applies the edit to the document text and returns the new text.
// Used by tests and by callers that mirror the editor's apply locally.
func (e Edit) Apply(docText string) string {
	start := offsetOf(docText, e.Range.Start)
	end := offsetOf(docText, e.Range.End)
	if end < start {
		start, end = end, start
	}
	return docText[:start] + e.NewText + docText[end:]
}

// offsetOf maps a position to a byte offset, clamping past-the-end
// positions to the document length.
func offsetOf(text string, pos domain.Position) int {
	offset := 0
	line := 0
	for line < pos.Line {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
		line++
	}
	offset += pos.Character
	if offset > len(text) {
		offset = len(text)
	}
	return offset
}
