package transducer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/samcharles93/lattice/pkg/npy"
)

func TestNewTrellisValidates(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		frames    int
		positions int
		vocab     int
		data      []float32
	}{
		{"negative frames", -1, 1, 3, nil},
		{"zero positions", 1, 0, 3, nil},
		{"vocabulary below two", 1, 1, 1, []float32{0}},
		{"short data", 2, 2, 3, make([]float32, 11)},
		{"long data", 1, 1, 3, make([]float32, 4)},
	}
	for _, tc := range cases {
		if _, err := NewTrellis(tc.frames, tc.positions, tc.vocab, tc.data); !errors.Is(err, ErrInvalidTrellis) {
			t.Fatalf("%s: err = %v, want ErrInvalidTrellis", tc.name, err)
		}
	}
}

func TestTrellisPlayback(t *testing.T) {
	t.Parallel()
	tr := buildTrellis(t, [][][]float32{
		{{1, 2, 3}, {4, 5, 6}},
		{{7, 8, 9}, {10, 11, 12}},
	})

	enc := tr.EncoderInput()
	if enc.R != 2 || enc.C != 1 {
		t.Fatalf("encoder input is %dx%d, want 2x1", enc.R, enc.C)
	}
	if enc.Data[0] != 0 || enc.Data[1] != 1 {
		t.Fatalf("encoder input data = %v, want frame indices", enc.Data)
	}

	out, att, state, err := tr.Step([]int{0}, tr.ZeroState())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if att != nil || state != nil {
		t.Fatalf("Step returned att %v state %v, want none", att, state)
	}
	if len(out) != 1 || out[0] != 0 {
		t.Fatalf("seed step out = %v, want [0]", out)
	}

	deep, _, _, err := tr.Step([]int{0, 1, 2, 1}, nil)
	if err != nil {
		t.Fatalf("deep Step: %v", err)
	}
	if deep[0] != 1 {
		t.Fatalf("deep step out = %v, want clamp to last position", deep)
	}

	row := tr.Joint(enc.Row(1), out)
	if row[0] != 7 || row[1] != 8 || row[2] != 9 {
		t.Fatalf("Joint(frame 1, pos 0) = %v, want [7 8 9]", row)
	}

	row = tr.Joint([]float32{9}, []float32{9})
	if row[0] != 10 || row[1] != 11 || row[2] != 12 {
		t.Fatalf("clamped Joint = %v, want last cell [10 11 12]", row)
	}

	row[0] = -1
	if again := tr.Joint([]float32{9}, []float32{9}); again[0] != 10 {
		t.Fatalf("Joint rows share backing storage: %v", again)
	}
}

func TestLoadTrellisRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "joint.npy")
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if err := npy.Write(path, []int{2, 2, 3}, data); err != nil {
		t.Fatalf("npy.Write: %v", err)
	}

	tr, err := LoadTrellis(path)
	if err != nil {
		t.Fatalf("LoadTrellis: %v", err)
	}
	if tr.Frames != 2 || tr.Positions != 2 || tr.Vocab != 3 {
		t.Fatalf("dims = %d %d %d, want 2 2 3", tr.Frames, tr.Positions, tr.Vocab)
	}
	row := tr.Joint([]float32{1}, []float32{0})
	if row[0] != 7 || row[1] != 8 || row[2] != 9 {
		t.Fatalf("Joint(1, 0) = %v, want [7 8 9]", row)
	}

	flat := filepath.Join(dir, "flat.npy")
	if err := npy.Write(flat, []int{4, 3}, data); err != nil {
		t.Fatalf("npy.Write: %v", err)
	}
	if _, err := LoadTrellis(flat); err == nil {
		t.Fatalf("LoadTrellis accepted a rank-2 file")
	}

	if _, err := LoadTrellis(filepath.Join(dir, "missing.npy")); err == nil {
		t.Fatalf("LoadTrellis accepted a missing file")
	}
}
