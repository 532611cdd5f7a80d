package reconcile

import (
	"strconv"
	"strings"

	"genforge/internal/core/domain"
)

// mergeThreeWay reconciles base (the snapshot at admission), yours (the
// live document) and theirs (the generated text applied to base) by a
// line-based diff3. Hunks changed on only one side take that side; hunks
// where both sides made the same change collapse; genuinely conflicting
// hunks fail with domain.ErrMergeAmbiguous rather than guessing.
func mergeThreeWay(base, yours, theirs string) (string, error) {
	baseLines := strings.Split(base, "\n")
	yourLines := strings.Split(yours, "\n")
	theirLines := strings.Split(theirs, "\n")

	yourMatch := lcsMatch(baseLines, yourLines)
	theirMatch := lcsMatch(baseLines, theirLines)

	var out []string
	bi, yi, ti := 0, 0, 0
	for bi < len(baseLines) || yi < len(yourLines) || ti < len(theirLines) {
		// Stable point: the current base line survives unchanged on both
		// sides at the current cursors.
		if bi < len(baseLines) && yourMatch[bi] == yi && theirMatch[bi] == ti {
			out = append(out, baseLines[bi])
			bi++
			yi++
			ti++
			continue
		}

		// Collect the unstable hunk: advance base to the next line that is
		// matched on both sides, and each side to that match.
		nextB := bi
		for nextB < len(baseLines) && (yourMatch[nextB] < 0 || theirMatch[nextB] < 0) {
			nextB++
		}
		var nextY, nextT int
		if nextB < len(baseLines) {
			nextY = yourMatch[nextB]
			nextT = theirMatch[nextB]
		} else {
			nextY = len(yourLines)
			nextT = len(theirLines)
		}

		baseHunk := hunkKey(baseLines[bi:nextB])
		yourHunk := hunkKey(yourLines[yi:nextY])
		theirHunk := hunkKey(theirLines[ti:nextT])

		switch {
		case yourHunk == baseHunk:
			out = append(out, theirLines[ti:nextT]...)
		case theirHunk == baseHunk:
			out = append(out, yourLines[yi:nextY]...)
		case yourHunk == theirHunk:
			out = append(out, yourLines[yi:nextY]...)
		default:
			return "", domain.ErrMergeAmbiguous
		}

		bi, yi, ti = nextB, nextY, nextT
	}

	return strings.Join(out, "\n"), nil
}

// hunkKey encodes a hunk for equality checks; the length prefix keeps an
// empty hunk distinct from a single blank line.
func hunkKey(lines []string) string {
	return strconv.Itoa(len(lines)) + "\x00" + strings.Join(lines, "\n")
}

// lcsMatch returns, for each line of a, the index in b it is matched to by
// a longest-common-subsequence alignment, or -1 if the line was changed.
func lcsMatch(a, b []string) []int {
	n, m := len(a), len(b)
	// dp[i][j] = LCS length of a[i:], b[j:]
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	match := make([]int, n)
	for i := range match {
		match[i] = -1
	}
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			match[i] = j
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return match
}
