package transducer

import "errors"

var (
	// ErrInvalidConfig marks misconfiguration caught before any stepping
	// starts: bad beam or vocabulary sizes, an out-of-range blank id, or a
	// negative fusion weight.
	ErrInvalidConfig = errors.New("invalid transducer configuration")

	// ErrUnknownSearchType is returned for a search variant name New does
	// not recognise.
	ErrUnknownSearchType = errors.New("unknown transducer search type")

	// ErrInvalidTrellis marks a playback tensor whose dimensions do not
	// describe frame by emitted-count by vocabulary logit rows.
	ErrInvalidTrellis = errors.New("invalid joint trellis")
)
