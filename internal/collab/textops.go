package collab

import (
	"errors"
	"strings"
)

// ErrMalformedOperation marks an edit whose range cannot be interpreted.
// The whole batch containing it is rejected.
var ErrMalformedOperation = errors.New("malformed edit operation")

// EditOperation is a single range-replacement change. The range is the span
// being replaced (1-indexed, end-exclusive); an empty Text deletes it, and a
// zero-length range is a pure insertion.
type EditOperation struct {
	Range SelectionRange `json:"range"`
	Text  string         `json:"text"`
}

// Apply reconciles one operation against a buffer and returns the new
// buffer. It is a pure function: same inputs, same result, no hidden state.
//
// Structurally invalid ranges (any coordinate below 1, or an end position
// before the start) are rejected with ErrMalformedOperation. Ranges that are
// merely out of bounds are clamped to the buffer so a slightly stale client
// edit degrades instead of corrupting the room.
func Apply(content string, op EditOperation) (string, error) {
	r := op.Range
	if r.StartLine < 1 || r.StartColumn < 1 || r.EndLine < 1 || r.EndColumn < 1 {
		return "", ErrMalformedOperation
	}
	if r.EndLine < r.StartLine || (r.EndLine == r.StartLine && r.EndColumn < r.StartColumn) {
		return "", ErrMalformedOperation
	}

	lines := strings.Split(content, "\n")

	startLine := clampInt(r.StartLine, 1, len(lines))
	endLine := clampInt(r.EndLine, 1, len(lines))

	startRunes := []rune(lines[startLine-1])
	endRunes := []rune(lines[endLine-1])
	startColumn := clampInt(r.StartColumn, 1, len(startRunes)+1)
	endColumn := clampInt(r.EndColumn, 1, len(endRunes)+1)

	prefix := string(startRunes[:startColumn-1])
	suffix := string(endRunes[endColumn-1:])
	merged := prefix + op.Text + suffix

	spliced := make([]string, 0, len(lines))
	spliced = append(spliced, lines[:startLine-1]...)
	spliced = append(spliced, merged)
	spliced = append(spliced, lines[endLine:]...)

	return strings.Join(spliced, "\n"), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
