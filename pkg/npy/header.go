// Package npy reads and writes the NumPy .npy array format, the interchange
// format the decode tooling uses for dumped model outputs (log-probability
// matrices, joint-network trellises).
//
// Version 1.0 and 2.0 files are accepted; little-endian f4 and f8 payloads in
// C order are supported. Writing always produces version 1.0 f4 files.
package npy

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const magic = "\x93NUMPY"

// DType identifies the element encoding of an array payload.
type DType string

const (
	DTypeF4 DType = "<f4"
	DTypeF8 DType = "<f8"
)

func (d DType) elemSize() int {
	switch d {
	case DTypeF4:
		return 4
	case DTypeF8:
		return 8
	}
	return 0
}

// header is the parsed form of the ASCII dict that follows the magic bytes.
type header struct {
	dtype   DType
	fortran bool
	shape   []int
	// dataOff is the offset of the first payload byte in the file.
	dataOff int
}

// decodeHeader parses the magic, version, header length and dict from the
// start of data.
func decodeHeader(data []byte) (header, error) {
	var h header
	if len(data) < len(magic)+2 {
		return h, ErrCorruptFile
	}
	if string(data[:len(magic)]) != magic {
		return h, ErrInvalidMagic
	}
	major, minor := data[6], data[7]

	var dictStart, dictLen int
	switch major {
	case 1:
		if len(data) < 10 {
			return h, ErrCorruptFile
		}
		dictLen = int(binary.LittleEndian.Uint16(data[8:10]))
		dictStart = 10
	case 2:
		if len(data) < 12 {
			return h, ErrCorruptFile
		}
		dictLen = int(binary.LittleEndian.Uint32(data[8:12]))
		dictStart = 12
	default:
		return h, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, major, minor)
	}
	if dictStart+dictLen > len(data) {
		return h, ErrCorruptFile
	}

	if err := parseDict(string(data[dictStart:dictStart+dictLen]), &h); err != nil {
		return h, err
	}
	h.dataOff = dictStart + dictLen
	return h, nil
}

// parseDict extracts descr, fortran_order and shape from the Python dict
// literal NumPy writes. The literal has a fixed field set, so a targeted scan
// is enough.
func parseDict(dict string, h *header) error {
	descr, err := dictString(dict, "descr")
	if err != nil {
		return err
	}
	switch DType(descr) {
	case DTypeF4, DTypeF8:
		h.dtype = DType(descr)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}

	order, err := dictValue(dict, "fortran_order")
	if err != nil {
		return err
	}
	switch order {
	case "False":
		h.fortran = false
	case "True":
		return fmt.Errorf("%w: fortran order", ErrUnsupportedLayout)
	default:
		return fmt.Errorf("%w: fortran_order %q", ErrCorruptFile, order)
	}

	tuple, err := dictValue(dict, "shape")
	if err != nil {
		return err
	}
	shape, err := parseShape(tuple)
	if err != nil {
		return err
	}
	h.shape = shape
	return nil
}

// dictValue returns the raw value token following "'key':" in the dict.
func dictValue(dict, key string) (string, error) {
	marker := "'" + key + "':"
	i := strings.Index(dict, marker)
	if i < 0 {
		return "", fmt.Errorf("%w: missing %s", ErrCorruptFile, key)
	}
	rest := strings.TrimLeft(dict[i+len(marker):], " ")
	if rest == "" {
		return "", fmt.Errorf("%w: empty %s", ErrCorruptFile, key)
	}
	if rest[0] == '(' {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated %s", ErrCorruptFile, key)
		}
		return rest[:end+1], nil
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), nil
}

// dictString returns a quoted string value from the dict.
func dictString(dict, key string) (string, error) {
	v, err := dictValue(dict, key)
	if err != nil {
		return "", err
	}
	if len(v) < 2 || v[0] != '\'' || v[len(v)-1] != '\'' {
		return "", fmt.Errorf("%w: %s not a string", ErrCorruptFile, key)
	}
	return v[1 : len(v)-1], nil
}

func parseShape(tuple string) ([]int, error) {
	tuple = strings.TrimSpace(tuple)
	if len(tuple) < 2 || tuple[0] != '(' || tuple[len(tuple)-1] != ')' {
		return nil, fmt.Errorf("%w: shape %q", ErrCorruptFile, tuple)
	}
	inner := strings.TrimSpace(tuple[1 : len(tuple)-1])
	if inner == "" {
		return []int{}, nil
	}
	parts := strings.Split(inner, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			// trailing comma in one-element tuples
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: shape dimension %q", ErrCorruptFile, p)
		}
		shape = append(shape, n)
	}
	return shape, nil
}

// numElems returns the element count implied by shape, guarding against
// overflow. A rank-0 shape holds one element.
func numElems(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d == 0 {
			return 0, nil
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape too large", ErrCorruptFile)
		}
		n *= d
	}
	return n, nil
}
