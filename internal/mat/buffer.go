package mat

// FrameBuffer accumulates feature frames delivered block by block. Appends
// amortise through slice growth; the buffered frames are never re-copied into
// a fresh matrix per block.
type FrameBuffer struct {
	cols int
	rows int
	data []float32
}

// Append adds the rows of chunk to the buffer. The first append fixes the
// column count; later appends with a different width panic.
func (b *FrameBuffer) Append(chunk *Matrix) {
	if chunk.R == 0 {
		return
	}
	if b.cols == 0 && b.rows == 0 {
		b.cols = chunk.C
	}
	if chunk.C != b.cols {
		panic("frame width mismatch")
	}
	for i := 0; i < chunk.R; i++ {
		b.data = append(b.data, chunk.Row(i)...)
	}
	b.rows += chunk.R
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int { return b.rows }

// Matrix returns a view of all buffered frames. The view remains readable
// after further appends but does not see them.
func (b *FrameBuffer) Matrix() *Matrix {
	return &Matrix{
		R:      b.rows,
		C:      b.cols,
		Stride: b.cols,
		Data:   b.data[:b.rows*b.cols],
	}
}

// Tail returns a view of the newest n frames, or all of them when fewer are
// buffered.
func (b *FrameBuffer) Tail(n int) *Matrix {
	if n >= b.rows {
		return b.Matrix()
	}
	return b.Matrix().Rows(b.rows-n, b.rows)
}

// Reset drops the buffered frames while keeping the allocation.
func (b *FrameBuffer) Reset() {
	b.rows = 0
	b.cols = 0
	b.data = b.data[:0]
}
