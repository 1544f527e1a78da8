package decoder

import (
	"context"
	"math"
	"testing"

	"github.com/samcharles93/lattice/internal/mat"
)

// batchContextScorer adds the fused scoring contract on top of
// contextScorer; rows are produced by the same per-hypothesis logic.
type batchContextScorer struct {
	contextScorer
	fused int
}

func (s *batchContextScorer) BatchScore(yseqs [][]int, states []any, enc *mat.Matrix) ([][]float32, []any, error) {
	s.fused++
	scores := make([][]float32, len(yseqs))
	next := make([]any, len(yseqs))
	for i, y := range yseqs {
		var err error
		scores[i], next[i], err = s.Score(y, states[i], enc)
		if err != nil {
			return nil, nil, err
		}
	}
	return scores, next, nil
}

func requireSameResults(t *testing.T, got, want []Hypothesis) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("result count: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if !equalInts(got[i].Yseq, want[i].Yseq) {
			t.Fatalf("result %d: yseq %v, want %v", i, got[i].Yseq, want[i].Yseq)
		}
		if math.Abs(float64(got[i].Score-want[i].Score)) > 1e-4 {
			t.Fatalf("result %d: score %v, want %v", i, got[i].Score, want[i].Score)
		}
	}
}

func equivalenceOptions(full Scorer) Options {
	return Options{
		BeamSize:  3,
		VocabSize: 7,
		SOS:       0,
		EOS:       6,
		Scorers: map[string]Scorer{
			"decoder": full,
			"ctc": &partialTable{rows: [][]float32{
				scriptRow(7, -1.5, map[int]float32{2: -0.4, 3: -0.9}),
				scriptRow(7, -1.5, map[int]float32{1: -0.3, 6: -0.8}),
				scriptRow(7, -1.2, map[int]float32{6: -0.2}),
			}},
		},
		Weights: map[string]float32{"decoder": 1, "ctc": 0.5},
	}
}

// The batched engine must reproduce the sequential engine's output exactly,
// whether full scorers are driven through the fused call or row by row.
func TestBatchMatchesSequential(t *testing.T) {
	t.Parallel()
	enc := encFrames(8)

	seq := newTestSearch(t, equivalenceOptions(&contextScorer{vocab: 7}))
	want, err := seq.Decode(context.Background(), enc)
	if err != nil {
		t.Fatalf("sequential Decode: %v", err)
	}
	if len(want) == 0 {
		t.Fatal("sequential Decode: no results")
	}

	fused := &batchContextScorer{contextScorer: contextScorer{vocab: 7}}
	batch, err := NewBatch(equivalenceOptions(fused))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	got, err := batch.Decode(context.Background(), enc)
	if err != nil {
		t.Fatalf("batched Decode: %v", err)
	}
	requireSameResults(t, got, want)
	if fused.fused == 0 {
		t.Fatal("fused scoring path never used")
	}

	fallback, err := NewBatch(equivalenceOptions(&contextScorer{vocab: 7}))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	got, err = fallback.Decode(context.Background(), enc)
	if err != nil {
		t.Fatalf("fallback Decode: %v", err)
	}
	requireSameResults(t, got, want)
}

// Same equivalence with candidate pre-selection active, which exercises the
// per-row masking in the batched engine.
func TestBatchMatchesSequentialWithPreBeam(t *testing.T) {
	t.Parallel()
	enc := encFrames(8)

	withPreBeam := func(full Scorer) Options {
		o := equivalenceOptions(full)
		o.PreBeamScoreKey = PreBeamKeyFull
		o.PreBeamRatio = 1.4
		return o
	}

	seq := newTestSearch(t, withPreBeam(&contextScorer{vocab: 7}))
	if !seq.doPreBeam() {
		t.Fatal("pre-beam inactive")
	}
	want, err := seq.Decode(context.Background(), enc)
	if err != nil {
		t.Fatalf("sequential Decode: %v", err)
	}

	batch, err := NewBatch(withPreBeam(&batchContextScorer{contextScorer: contextScorer{vocab: 7}}))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	got, err := batch.Decode(context.Background(), enc)
	if err != nil {
		t.Fatalf("batched Decode: %v", err)
	}
	requireSameResults(t, got, want)
}

func TestBatchfyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSearch(t, equivalenceOptions(&contextScorer{vocab: 7}))
	hyps := []Hypothesis{
		{
			Yseq:   []int{0, 2},
			Score:  -1.5,
			Scores: map[string]float32{"decoder": -1, "ctc": -1},
			States: map[string]any{"decoder": 3, "ctc": "a"},
		},
		{
			Yseq:   []int{0, 5},
			Score:  -2,
			Scores: map[string]float32{"decoder": -1.5, "ctc": -1},
			States: map[string]any{"decoder": 4, "ctc": "b"},
		},
	}
	back := s.unbatchfy(s.batchfy(hyps))
	if len(back) != len(hyps) {
		t.Fatalf("round trip count: got %d, want %d", len(back), len(hyps))
	}
	for i := range hyps {
		if !equalInts(back[i].Yseq, hyps[i].Yseq) || back[i].Score != hyps[i].Score {
			t.Fatalf("round trip entry %d differs: %+v", i, back[i])
		}
		if back[i].States["ctc"] != hyps[i].States["ctc"] {
			t.Fatalf("round trip entry %d lost state", i)
		}
	}
}
