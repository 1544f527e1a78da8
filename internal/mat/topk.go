package mat

// TopK selects the indices and values of the k largest elements of a vector
// using an O(V*K) insertion scan, which beats heap or sort approaches for the
// small k beam search uses. Scratch buffers are reused between calls, so a
// TopK must not be shared across goroutines.
type TopK struct {
	idx []int
	val []float32
}

// Select returns the indices and values of the k largest elements of x,
// ordered from largest to smallest. Ties resolve to the lowest index. The
// returned slices are valid until the next call. If k exceeds len(x) all
// elements are returned.
func (t *TopK) Select(x []float32, k int) ([]int, []float32) {
	if k <= 0 || len(x) == 0 {
		return nil, nil
	}
	if cap(t.idx) < k+1 {
		t.idx = make([]int, 0, k+1)
		t.val = make([]float32, 0, k+1)
	}
	idx := t.idx[:0]
	val := t.val[:0]

	for i, v := range x {
		pos := len(val)
		for pos > 0 && val[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		idx = append(idx, 0)
		val = append(val, 0)

		copy(idx[pos+1:], idx[pos:])
		copy(val[pos+1:], val[pos:])
		idx[pos] = i
		val[pos] = v

		if len(val) > k {
			idx = idx[:k]
			val = val[:k]
		}
	}
	t.idx = idx
	t.val = val
	return idx, val
}
