package npy

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid NPY magic")
	ErrUnsupportedVersion = errors.New("unsupported NPY version")
	ErrUnsupportedDType   = errors.New("unsupported NPY dtype")
	ErrUnsupportedLayout  = errors.New("unsupported NPY layout")
	ErrCorruptFile        = errors.New("corrupt NPY file")
)
