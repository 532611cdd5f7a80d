package reconcile

import (
	"strings"

	"genforge/internal/core/domain"
)

// Backends are told to write only the requested snippet, but some echo the
// whole file back anyway. Shipping that verbatim would duplicate every
// other declaration, so suspicious output is detected and the target
// declaration extracted from it instead.

// declarationPrefixes are the line openers counted as declarations for the
// echo heuristic, across the languages the system is pointed at.
var declarationPrefixes = []string{
	"func ", "fn ", "pub fn ", "def ", "async def ", "function ",
	"class ", "struct ", "impl ", "interface ", "type ",
	"public ", "private ", "protected ", "static ",
	"export function ", "export const ", "const ",
	"var ", "let ",
}

// looksLikeFullFileEcho reports whether the generated text resembles the
// whole document rather than the requested snippet: its line count is
// within tolerance of the file's, or it contains several declarations
// besides the target.
func looksLikeFullFileEcho(generated, docText, signature string, cfg domain.ReconcileConfig) bool {
	genLines := countNonBlankLines(generated)
	docLines := countNonBlankLines(docText)

	diff := genLines - docLines
	if diff < 0 {
		diff = -diff
	}
	if docLines > cfg.EchoLineTolerance*2 && diff <= cfg.EchoLineTolerance {
		return true
	}

	return countForeignDeclarations(generated, signature) >= cfg.EchoDeclarationCount
}

// extractDeclaration pulls the target declaration's replacement out of
// echoed output, using the same anchor-and-extend walk as the live
// document boundary search.
func extractDeclaration(generated, signature string) (string, bool) {
	lines := strings.Split(generated, "\n")
	anchor := strings.TrimSpace(signature)
	if anchor == "" {
		return "", false
	}

	start := -1
	for i, line := range lines {
		if signatureMatches(line, anchor) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	end := blockEnd(lines, start)
	return strings.Join(lines[start:end+1], "\n"), true
}

func countNonBlankLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// countForeignDeclarations counts top-level declaration lines that are not
// the target signature. Indented lines are skipped so methods inside the
// target's own body do not trip the heuristic.
func countForeignDeclarations(text, signature string) int {
	anchor := strings.TrimSpace(signature)
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if anchor != "" && signatureMatches(line, anchor) {
			continue
		}
		for _, prefix := range declarationPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				count++
				break
			}
		}
	}
	return count
}
