// Package mat provides the dense float32 matrices and log-probability
// arithmetic the decoding engines are built on.
package mat

// Matrix is a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; for matrices built by
// this package it equals C. Data holds the flattened values.
//
// Matrix performs no memory safety beyond the checks performed by Go's slice
// types; out-of-range indices panic.
type Matrix struct {
	R, C   int
	Stride int
	Data   []float32
}

// New allocates a zero-initialised matrix with the given dimensions.
func New(r, c int) *Matrix {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Matrix{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// FromData wraps existing data in a matrix without copying. It checks that
// the data length matches r*c.
func FromData(r, c int, data []float32) *Matrix {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Matrix{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// FromRows copies a slice-of-rows into a freshly allocated matrix. Every row
// must have the same length.
func FromRows(rows [][]float32) *Matrix {
	if len(rows) == 0 {
		return New(0, 0)
	}
	c := len(rows[0])
	m := New(len(rows), c)
	for i, row := range rows {
		if len(row) != c {
			panic("ragged rows")
		}
		copy(m.Row(i), row)
	}
	return m
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix values.
func (m *Matrix) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// RowTo copies the i-th row into dst. dst must have length >= C.
func (m *Matrix) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	start := i * m.Stride
	copy(dst[:m.C], m.Data[start:start+m.C])
}

// Rows returns a view of rows [i, j). The view shares backing storage with m.
func (m *Matrix) Rows(i, j int) *Matrix {
	if i < 0 || j < i || j > m.R {
		panic("row range out of bounds")
	}
	return &Matrix{
		R:      j - i,
		C:      m.C,
		Stride: m.Stride,
		Data:   m.Data[i*m.Stride : i*m.Stride+(j-i)*m.Stride],
	}
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	out := New(m.R, m.C)
	copy(out.Data, m.Data)
	return out
}
