package api

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest tags client-side failures so handlers answer 400 instead
// of 500. Build one with badRequestf.
var ErrInvalidRequest = errors.New("invalid request")

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func (e badRequestError) Unwrap() error { return ErrInvalidRequest }

func badRequestf(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}
