package scorer

import "errors"

var (
	// ErrNoFrames signals a playback matrix without any rows.
	ErrNoFrames = errors.New("scorer: matrix has no rows")
	// ErrNotSquare signals a transition table whose sides differ.
	ErrNotSquare = errors.New("scorer: transition table is not square")
	// ErrTokenRange signals a token id outside a scorer's table.
	ErrTokenRange = errors.New("scorer: token id outside table")
)
