package reconcile

import (
	"strings"

	"genforge/internal/core/domain"
)

// Boundary is the located extent of the target declaration in the current
// document, inclusive line span.
type Boundary struct {
	StartLine int
	EndLine   int
}

// backwardScanWindow bounds how far above the adjusted line the signature
// scan will look. Sibling shifts move a declaration by a handful of lines,
// not hundreds; an anchor that far away is more likely a false match.
const backwardScanWindow = 40

// locateBoundary finds the target declaration in docText. It scans backward
// from the adjusted line for a textual match of the signature captured at
// admission, then extends forward by block-depth heuristics. This is not a
// parse: the signature is a best-effort text anchor that tolerates the
// declaration having moved since admission.
func locateBoundary(docText string, adjustedLine int, signature string) (Boundary, error) {
	lines := strings.Split(docText, "\n")
	if adjustedLine >= len(lines) {
		adjustedLine = len(lines) - 1
	}
	if adjustedLine < 0 {
		adjustedLine = 0
	}

	anchor := strings.TrimSpace(signature)
	if anchor == "" {
		return Boundary{}, domain.ErrMergeAmbiguous
	}

	startLine := -1
	lowest := adjustedLine - backwardScanWindow
	if lowest < 0 {
		lowest = 0
	}
	// Prefer the match closest to the adjusted line. Scanning down first
	// also covers the declaration having shifted slightly forward.
	for i := adjustedLine; i >= lowest; i-- {
		if signatureMatches(lines[i], anchor) {
			startLine = i
			break
		}
	}
	if startLine < 0 {
		for i := adjustedLine + 1; i < len(lines) && i <= adjustedLine+backwardScanWindow; i++ {
			if signatureMatches(lines[i], anchor) {
				startLine = i
				break
			}
		}
	}
	if startLine < 0 {
		return Boundary{}, domain.ErrMergeAmbiguous
	}

	endLine := blockEnd(lines, startLine)
	return Boundary{StartLine: startLine, EndLine: endLine}, nil
}

func signatureMatches(line, anchor string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.Contains(trimmed, anchor) || strings.Contains(anchor, trimmed)
}

// blockEnd finds the last line of the declaration starting at startLine.
// Brace-delimited languages are handled by depth counting; for indentation
// blocks (no brace opens near the signature) the block runs until the next
// non-blank line at or below the declaration's indent.
func blockEnd(lines []string, startLine int) int {
	depth := 0
	opened := false
	// A signature may spread its parameter list over a few lines before the
	// body's opening brace. Look a short distance ahead for the first open.
	for i := startLine; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		if !opened && i > startLine+3 {
			break
		}
	}
	if opened {
		// Unbalanced braces: treat the rest of the file as the block.
		return len(lines) - 1
	}
	return indentBlockEnd(lines, startLine)
}

func indentBlockEnd(lines []string, startLine int) int {
	indent := indentWidth(lines[startLine])
	end := startLine
	for i := startLine + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentWidth(lines[i]) <= indent {
			break
		}
		end = i
	}
	return end
}

func indentWidth(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
