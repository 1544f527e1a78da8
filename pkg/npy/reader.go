package npy

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// Array is a loaded .npy file. The raw payload stays byte-backed (possibly
// mmapped) until Float32 decodes it.
type Array struct {
	Shape []int
	DType DType

	raw     []byte // payload bytes, a view into file
	file    []byte // whole file backing, owned when mmapped
	mmapped bool
	f32     []float32
}

// Open maps a .npy file read-only and validates its header. If mmap is
// unavailable, it falls back to ReadAt-based loading. The returned array must
// be closed to release any mapping.
func Open(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < 0 || size64 > int64(math.MaxInt) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	// Prefer mmap where available so inspect-style consumers never fault in
	// the payload.
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		arr, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return arr, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates a .npy array from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*Array, error) {
	if size < 0 || size > int64(math.MaxInt) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorruptFile
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*Array, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	n, err := numElems(h.shape)
	if err != nil {
		return nil, err
	}
	want := n * h.dtype.elemSize()
	if len(data)-h.dataOff != want {
		return nil, fmt.Errorf("%w: payload is %d bytes, header implies %d",
			ErrCorruptFile, len(data)-h.dataOff, want)
	}
	return &Array{
		Shape:   h.shape,
		DType:   h.dtype,
		raw:     data[h.dataOff:],
		file:    data,
		mmapped: mmapped,
	}, nil
}

// Close releases the array and any mmap backing.
func (a *Array) Close() error {
	if a == nil {
		return nil
	}
	var err error
	if a.file != nil && a.mmapped {
		err = unix.Munmap(a.file)
	}
	a.raw = nil
	a.file = nil
	a.f32 = nil
	a.mmapped = false
	return err
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n, err := numElems(a.Shape)
	if err != nil {
		return 0
	}
	return n
}

// Dims2 interprets the array as a matrix, returning rows and columns. A 1-D
// array reads as a single row.
func (a *Array) Dims2() (r, c int, err error) {
	switch len(a.Shape) {
	case 1:
		return 1, a.Shape[0], nil
	case 2:
		return a.Shape[0], a.Shape[1], nil
	}
	return 0, 0, fmt.Errorf("%w: want 2 dimensions, have %d", ErrUnsupportedLayout, len(a.Shape))
}

// Dims3 interprets the array as a rank-3 tensor.
func (a *Array) Dims3() (d0, d1, d2 int, err error) {
	if len(a.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: want 3 dimensions, have %d", ErrUnsupportedLayout, len(a.Shape))
	}
	return a.Shape[0], a.Shape[1], a.Shape[2], nil
}

// Float32 decodes the payload into float32 values in C order. The decoded
// slice is allocated once and cached. Float32 must not be called after Close.
func (a *Array) Float32() []float32 {
	if a.f32 != nil {
		return a.f32
	}
	n := a.Len()
	out := make([]float32, n)
	switch a.DType {
	case DTypeF4:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(u32le(a.raw, i*4))
		}
	case DTypeF8:
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(u64le(a.raw, i*8)))
		}
	default:
		panic("unsupported dtype survived header validation")
	}
	a.f32 = out
	return out
}

func u32le(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func u64le(b []byte, off int) uint64 {
	return uint64(u32le(b, off)) | uint64(u32le(b, off+4))<<32
}
