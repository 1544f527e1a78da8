package decoder

import "errors"

var (
	// ErrInvalidConfig marks misconfiguration caught before any stepping
	// starts: bad beam or vocabulary sizes, weight/scorer name mismatches,
	// pre-beam keys naming no full scorer.
	ErrInvalidConfig = errors.New("invalid decoder configuration")

	// ErrSessionDone is returned when frames are pushed into a streaming
	// session that already produced its final result.
	ErrSessionDone = errors.New("streaming session already finished")
)
