package reconcile

import (
	"errors"
	"log/slog"
	"strings"

	"genforge/internal/core/domain"
)

// Engine turns backend output plus the live document into one minimal edit.
// Point jobs locate the enclosing declaration and overwrite it (generated
// text wins inside the boundary, user edits elsewhere are never touched);
// range jobs replace the adjusted selection verbatim. When the boundary
// cannot be located, a 3-way merge against the admission snapshot is tried
// before giving up.
type Engine struct {
	logger *slog.Logger
	cfg    domain.ReconcileConfig
}

func NewEngine(logger *slog.Logger, cfg domain.ReconcileConfig) *Engine {
	return &Engine{
		logger: logger.With("component", "reconcile"),
		cfg:    cfg,
	}
}

// Reconcile computes the edit for a finished job. docText is the document
// as it stands now, adjustedTarget the tracker's current view of the
// target. No edit is produced on error.
func (e *Engine) Reconcile(job *domain.Job, docText string, adjustedTarget domain.Range, generated string) (Edit, error) {
	generated = StripMarkdownCodeBlock(generated)

	if job.Kind == domain.TargetRange {
		return replaceRange(docText, adjustedTarget, generated), nil
	}
	return e.reconcilePoint(job, docText, adjustedTarget, generated)
}

func (e *Engine) reconcilePoint(job *domain.Job, docText string, adjustedTarget domain.Range, generated string) (Edit, error) {
	if looksLikeFullFileEcho(generated, docText, job.Signature, e.cfg) {
		extracted, ok := extractDeclaration(generated, job.Signature)
		if !ok {
			e.logger.Warn("full-file echo suspected but target not found in output", "job_id", job.ID)
			return Edit{}, domain.ErrMergeAmbiguous
		}
		e.logger.Info("full-file echo detected, extracted target declaration",
			"job_id", job.ID,
			"output_lines", countNonBlankLines(generated),
			"extracted_lines", countNonBlankLines(extracted))
		generated = extracted
	}

	boundary, err := locateBoundary(docText, adjustedTarget.Start.Line, job.Signature)
	if err != nil {
		if errors.Is(err, domain.ErrMergeAmbiguous) {
			return e.mergeFallback(job, docText, adjustedTarget, generated)
		}
		return Edit{}, err
	}

	return replaceLineSpan(docText, boundary.StartLine, boundary.EndLine, generated), nil
}

// mergeFallback reconciles Base (admission snapshot), Yours (live document)
// and Theirs (generated text applied to Base at the original target) when
// the signature anchor is gone from the live document.
func (e *Engine) mergeFallback(job *domain.Job, docText string, adjustedTarget domain.Range, generated string) (Edit, error) {
	e.logger.Info("boundary not located, attempting 3-way merge", "job_id", job.ID)

	base := job.Baseline
	boundary, err := locateBoundary(base, job.OriginalTarget.Start.Line, job.Signature)
	if err != nil {
		return Edit{}, domain.ErrMergeAmbiguous
	}
	theirs := replaceLineSpan(base, boundary.StartLine, boundary.EndLine, generated).Apply(base)

	merged, err := mergeThreeWay(base, docText, theirs)
	if err != nil {
		return Edit{}, err
	}

	// The merge yields a full document; narrow it back down to the minimal
	// differing span so the applied edit stays a single-range replacement.
	return minimalEdit(docText, merged), nil
}

// minimalEdit computes the single line-span replacement that rewrites
// docText into target, by trimming the common line prefix and suffix.
func minimalEdit(docText, target string) Edit {
	oldLines := splitKeepAll(docText)
	newLines := splitKeepAll(target)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	endLine := len(oldLines) - suffix
	atEOF := endLine >= len(oldLines)
	terminated := strings.HasSuffix(docText, "\n")

	start := domain.Position{Line: prefix, Character: 0}
	// End at the start of the first unchanged suffix line; offset mapping
	// clamps a past-the-end line to the document length.
	end := domain.Position{Line: endLine, Character: 0}

	var replacement string
	if prefix < len(newLines)-suffix {
		replacement = strings.Join(newLines[prefix:len(newLines)-suffix], "\n")
		if !atEOF || terminated {
			replacement += "\n"
		}
	} else if atEOF && !terminated && prefix > 0 {
		// Pure deletion reaching an unterminated EOF: also swallow the
		// newline that ended the last kept line.
		start = domain.Position{Line: prefix - 1, Character: len(oldLines[prefix-1])}
	}

	return buildEdit(docText, domain.Range{Start: start, End: end}, replacement)
}

func splitKeepAll(text string) []string {
	// Split without the trailing empty segment a final newline produces, so
	// prefix/suffix trimming works on real lines.
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
