package transducer

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/pkg/npy"
)

// Trellis plays back a precomputed joint network output: a frames by
// positions by vocabulary tensor of logits indexed by encoder frame and
// emitted-token count. It implements both the prediction and the joint
// network contracts, so recorded model outputs can drive every search
// variant without the model present.
type Trellis struct {
	Frames    int
	Positions int
	Vocab     int

	data []float32
}

// NewTrellis wraps a flat row-major frames x positions x vocab logit tensor.
func NewTrellis(frames, positions, vocab int, data []float32) (*Trellis, error) {
	if frames < 0 || positions < 1 || vocab < 2 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d", ErrInvalidTrellis, frames, positions, vocab)
	}
	if len(data) != frames*positions*vocab {
		return nil, fmt.Errorf("%w: %d values for dimensions %dx%dx%d", ErrInvalidTrellis, len(data), frames, positions, vocab)
	}
	return &Trellis{Frames: frames, Positions: positions, Vocab: vocab, data: data}, nil
}

// LoadTrellis reads a trellis from a 3-dimensional .npy dump.
func LoadTrellis(path string) (*Trellis, error) {
	arr, err := npy.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trellis: %w", err)
	}
	defer arr.Close()
	frames, positions, vocab, err := arr.Dims3()
	if err != nil {
		return nil, fmt.Errorf("trellis %s: %w", path, err)
	}
	return NewTrellis(frames, positions, vocab, arr.Float32())
}

// EncoderInput builds the frame-index matrix the playback joint expects, one
// single-column row per trellis frame.
func (tr *Trellis) EncoderInput() *mat.Matrix {
	m := mat.New(tr.Frames, 1)
	for t := 0; t < tr.Frames; t++ {
		m.Data[t] = float32(t)
	}
	return m
}

// ZeroState returns nil: playback output depends only on the prefix length.
func (tr *Trellis) ZeroState() any { return nil }

// Step encodes the emitted-token count as a one-element output row. Prefixes
// deeper than the trellis clamp to its last position.
func (tr *Trellis) Step(yseq []int, state any) ([]float32, []float32, any, error) {
	u := len(yseq) - 1
	if u >= tr.Positions {
		u = tr.Positions - 1
	}
	return []float32{float32(u)}, nil, nil, nil
}

// Joint returns a copy of the logit row at the frame and emitted-token count
// encoded in its arguments, clamping both into range.
func (tr *Trellis) Joint(encFrame, decOut []float32) []float32 {
	t := clampIndex(int(encFrame[0]), tr.Frames)
	u := clampIndex(int(decOut[0]), tr.Positions)
	out := make([]float32, tr.Vocab)
	copy(out, tr.data[(t*tr.Positions+u)*tr.Vocab:])
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
