package domain

// TargetKind distinguishes the two shapes of a generation request.
type TargetKind string

const (
	// TargetPoint is "implement the function at the cursor".
	TargetPoint TargetKind = "POINT"
	// TargetRange is "replace this selection".
	TargetRange TargetKind = "RANGE"
)

// Position is a zero-indexed line/character position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [Start, End) region of a document.
// A point target is modeled as a zero-width range (Start == End) so both
// kinds flow through the same tracking and overlap machinery.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// PointRange builds the zero-width range for a point target.
func PointRange(line, character int) Range {
	p := Position{Line: line, Character: character}
	return Range{Start: p, End: p}
}

// IsZeroWidth reports whether the range is a point.
func (r Range) IsZeroWidth() bool {
	return r.Start == r.End
}

// LastLine is the last line the range touches. For a zero-width range this
// is the point's line; for a non-empty range ending at character 0 the end
// line itself is not part of the span.
func (r Range) LastLine() int {
	if r.IsZeroWidth() {
		return r.Start.Line
	}
	if r.End.Character == 0 && r.End.Line > r.Start.Line {
		return r.End.Line - 1
	}
	return r.End.Line
}

// Overlaps reports whether two ranges collide for admission purposes.
// Two non-empty ranges overlap iff they share at least one line. Two
// zero-width ranges overlap only at the exact same position. A zero-width
// range overlaps a non-empty one iff the point falls within the other's
// line span.
func (r Range) Overlaps(other Range) bool {
	if r.IsZeroWidth() && other.IsZeroWidth() {
		return r.Start == other.Start
	}
	return r.Start.Line <= other.LastLine() && other.Start.Line <= r.LastLine()
}

// Shift moves the range by delta lines, clamping at zero.
func (r Range) Shift(delta int) Range {
	shifted := r
	shifted.Start.Line = max(0, r.Start.Line+delta)
	shifted.End.Line = max(0, r.End.Line+delta)
	return shifted
}
