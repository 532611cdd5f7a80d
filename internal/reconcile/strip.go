package reconcile

import "strings"

// StripMarkdownCodeBlock removes a triple-backtick wrapper (with optional
// language tag) if the whole text is one fenced block, and returns the text
// unchanged otherwise. Backends occasionally fence their scratch output
// even when told not to.
func StripMarkdownCodeBlock(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
