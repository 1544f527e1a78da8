package decoder

import (
	"context"
	"math"
	"testing"
)

// Vocabulary of five ids: 0 doubles as start, 4 as end. The first row
// prefers id 2 with id 3 close behind, the second row makes end-of-sequence
// dominant for every surviving prefix, so the whole beam completes at the
// second step and the search stops with nothing left to extend.
func scriptedTwoStep() *tableScorer {
	return &tableScorer{rows: [][]float32{
		scriptRow(5, -6, map[int]float32{2: -0.1, 3: -0.3, 4: -20}),
		scriptRow(5, -8, map[int]float32{4: -0.05}),
	}}
}

func TestDecodeScriptedTwoStep(t *testing.T) {
	t.Parallel()
	tab := scriptedTwoStep()
	s := newTestSearch(t, Options{
		BeamSize:  2,
		VocabSize: 5,
		SOS:       0,
		EOS:       4,
		Scorers:   map[string]Scorer{"decoder": tab},
		Weights:   map[string]float32{"decoder": 1},
	})

	results, err := s.Decode(context.Background(), encFrames(10))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if want := []int{0, 2, 4}; !equalInts(results[0].Yseq, want) {
		t.Fatalf("best yseq: got %v, want %v", results[0].Yseq, want)
	}
	if want := []int{0, 3, 4}; !equalInts(results[1].Yseq, want) {
		t.Fatalf("second yseq: got %v, want %v", results[1].Yseq, want)
	}
	if want := float32(-0.1 + -0.05); math.Abs(float64(results[0].Score-want)) > 1e-5 {
		t.Fatalf("best score: got %v, want %v", results[0].Score, want)
	}
	if tab.maxPos != 1 {
		t.Fatalf("deepest scored position: got %d, want 1", tab.maxPos)
	}
}

// After any step the surviving beam must not exceed the configured width.
func TestSearchRespectsBeamWidth(t *testing.T) {
	t.Parallel()
	s := newTestSearch(t, Options{
		BeamSize:  3,
		VocabSize: 8,
		SOS:       0,
		EOS:       7,
		Scorers:   map[string]Scorer{"decoder": &contextScorer{vocab: 8}},
		Weights:   map[string]float32{"decoder": 1},
	})

	enc := encFrames(6)
	running := s.initHyps(enc)
	var ended []Hypothesis
	for i := 0; i < 6; i++ {
		best, err := s.search(running, enc)
		if err != nil {
			t.Fatalf("search step %d: %v", i, err)
		}
		if len(best) > 3 {
			t.Fatalf("step %d: beam grew to %d", i, len(best))
		}
		running = s.postProcess(i, 6, 0, best, &ended)
		if len(running) > 3 {
			t.Fatalf("step %d: surviving beam grew to %d", i, len(running))
		}
		if len(running) == 0 {
			break
		}
	}
}

// Even when every scorer despises the end token, the budget's last step
// forces one so the search terminates with a result.
func TestDecodeForcesTermination(t *testing.T) {
	t.Parallel()
	tab := &tableScorer{rows: [][]float32{scriptRow(5, -1, map[int]float32{4: -100})}}
	s := newTestSearch(t, Options{
		BeamSize:  2,
		VocabSize: 5,
		SOS:       0,
		EOS:       4,
		Scorers:   map[string]Scorer{"decoder": tab},
		Weights:   map[string]float32{"decoder": 1},
	})

	results, err := s.Decode(context.Background(), encFrames(5))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Decode: no results despite forced termination")
	}
	for _, h := range results {
		if h.lastToken() != 4 {
			t.Fatalf("result does not end with eos: %v", h.Yseq)
		}
	}
	if tab.maxPos >= 5 {
		t.Fatalf("search ran past the step budget: deepest position %d", tab.maxPos)
	}
}

// Zero input frames still yield a one-step budget and a content-free result
// rather than a hang or an empty return.
func TestDecodeEmptyInput(t *testing.T) {
	t.Parallel()
	s := newTestSearch(t, Options{
		BeamSize:  2,
		VocabSize: 5,
		SOS:       0,
		EOS:       4,
		Scorers:   map[string]Scorer{"decoder": &tableScorer{rows: [][]float32{uniformRow(5, -1)}}},
		Weights:   map[string]float32{"decoder": 1},
	})

	results, err := s.Decode(context.Background(), encFrames(0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Decode: no results for empty input")
	}
	best := results[0]
	if len(best.Yseq) > 3 {
		t.Fatalf("best yseq: got %v, want a single-step sequence", best.Yseq)
	}
	if best.Yseq[0] != 0 || best.lastToken() != 4 {
		t.Fatalf("best yseq: got %v, want start and end markers", best.Yseq)
	}
}

// A minimum length no first pass can satisfy must relax until something
// completes instead of returning nothing.
func TestDecodeRelaxesMinLength(t *testing.T) {
	t.Parallel()
	s := newTestSearch(t, Options{
		BeamSize:    2,
		VocabSize:   5,
		SOS:         0,
		EOS:         4,
		MinLenRatio: 2,
		Scorers:     map[string]Scorer{"decoder": &tableScorer{rows: [][]float32{scriptRow(5, -1, map[int]float32{4: -0.1})}}},
		Weights:     map[string]float32{"decoder": 1},
	})

	results, err := s.Decode(context.Background(), encFrames(3))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Decode: relaxation never produced a result")
	}
	if results[0].lastToken() != 4 {
		t.Fatalf("best hypothesis does not end with eos: %v", results[0].Yseq)
	}
}

func TestDecodeHonorsContext(t *testing.T) {
	t.Parallel()
	s := newTestSearch(t, Options{
		BeamSize:  2,
		VocabSize: 5,
		SOS:       0,
		EOS:       4,
		Scorers:   map[string]Scorer{"decoder": &tableScorer{rows: [][]float32{uniformRow(5, -1)}}},
		Weights:   map[string]float32{"decoder": 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Decode(ctx, encFrames(5)); err == nil {
		t.Fatal("Decode: expected context error")
	}
}

// With pre-beaming active, partial scorers only see the candidate subset and
// winning tokens must come from it.
func TestDecodeWithPreBeam(t *testing.T) {
	t.Parallel()
	full := scriptedTwoStep()
	part := &partialTable{rows: [][]float32{
		scriptRow(5, -0.2, map[int]float32{2: -0.1}),
		scriptRow(5, -0.2, map[int]float32{4: -0.1}),
	}}
	s := newTestSearch(t, Options{
		BeamSize:        2,
		VocabSize:       5,
		SOS:             0,
		EOS:             4,
		PreBeamScoreKey: PreBeamKeyFull,
		PreBeamRatio:    1.5,
		Scorers:         map[string]Scorer{"decoder": full, "ctc": part},
		Weights:         map[string]float32{"decoder": 1, "ctc": 0.5},
	})
	if !s.doPreBeam() {
		t.Fatal("pre-beam inactive with a partial scorer and a narrow ratio")
	}

	results, err := s.Decode(context.Background(), encFrames(10))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Decode: no results")
	}
	if want := []int{0, 2, 4}; !equalInts(results[0].Yseq, want) {
		t.Fatalf("best yseq: got %v, want %v", results[0].Yseq, want)
	}
	if part.calls == 0 {
		t.Fatal("partial scorer never invoked")
	}
}

func TestEndDetectStopsStagnantSearch(t *testing.T) {
	t.Parallel()
	// One strong early finisher, then steadily collapsing continuations
	// that keep ending: the convergence heuristic should stop the search
	// well before the budget.
	tab := &tableScorer{rows: [][]float32{
		scriptRow(6, -1, map[int]float32{5: -0.1}),
		scriptRow(6, -4, map[int]float32{5: -3.9}),
	}}
	s := newTestSearch(t, Options{
		BeamSize:  2,
		VocabSize: 6,
		SOS:       0,
		EOS:       5,
		Scorers:   map[string]Scorer{"decoder": tab},
		Weights:   map[string]float32{"decoder": 1},
	})

	results, err := s.Decode(context.Background(), encFrames(200))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Decode: no results")
	}
	if want := []int{0, 5}; !equalInts(results[0].Yseq, want) {
		t.Fatalf("best yseq: got %v, want %v", results[0].Yseq, want)
	}
	if tab.maxPos > 20 {
		t.Fatalf("search ran %d positions; end detection never fired", tab.maxPos)
	}
}
