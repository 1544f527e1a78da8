package mat

import "testing"

func TestMatrixRowViews(t *testing.T) {
	m := New(3, 2)
	m.Row(1)[0] = 5
	m.Row(1)[1] = 6
	if m.Data[2] != 5 || m.Data[3] != 6 {
		t.Fatalf("row view did not write through: %v", m.Data)
	}

	v := m.Rows(1, 3)
	if v.R != 2 || v.C != 2 {
		t.Fatalf("expected 2x2 view, got %dx%d", v.R, v.C)
	}
	if v.Row(0)[0] != 5 {
		t.Fatalf("view row mismatch: got %v", v.Row(0))
	}
	v.Row(1)[1] = 9
	if m.Row(2)[1] != 9 {
		t.Fatalf("view write did not reach parent")
	}
}

func TestFromRows(t *testing.T) {
	m := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	if m.R != 3 || m.C != 2 {
		t.Fatalf("expected 3x2, got %dx%d", m.R, m.C)
	}
	if m.Row(2)[0] != 5 {
		t.Fatalf("unexpected row contents: %v", m.Row(2))
	}
}

func TestMatrixClone(t *testing.T) {
	m := FromRows([][]float32{{1, 2}, {3, 4}})
	c := m.Clone()
	c.Row(0)[0] = 42
	if m.Row(0)[0] != 1 {
		t.Fatalf("clone shares storage with original")
	}
}

func TestFrameBufferAppend(t *testing.T) {
	var b FrameBuffer
	b.Append(FromRows([][]float32{{1, 1}, {2, 2}}))
	b.Append(FromRows([][]float32{{3, 3}}))
	if b.Len() != 3 {
		t.Fatalf("expected 3 buffered frames, got %d", b.Len())
	}
	m := b.Matrix()
	if m.R != 3 || m.Row(2)[0] != 3 {
		t.Fatalf("unexpected buffer contents: %v", m.Data)
	}

	// Views taken before an append stay readable and fixed.
	b.Append(FromRows([][]float32{{4, 4}}))
	if m.R != 3 {
		t.Fatalf("old view grew after append")
	}
	if got := b.Tail(2); got.R != 2 || got.Row(0)[0] != 3 || got.Row(1)[0] != 4 {
		t.Fatalf("unexpected tail: rows=%d data=%v", got.R, got.Data)
	}
	if got := b.Tail(10); got.R != 4 {
		t.Fatalf("oversized tail should return everything, got %d rows", got.R)
	}
}

func TestFrameBufferWidthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on frame width mismatch")
		}
	}()
	var b FrameBuffer
	b.Append(FromRows([][]float32{{1, 2}}))
	b.Append(FromRows([][]float32{{1, 2, 3}}))
}
