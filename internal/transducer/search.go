package transducer

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
)

// Decode runs the configured search over enc, one encoder frame per row, and
// returns up to the configured n-best hypotheses, best first. A nil or empty
// input yields the bare seed hypothesis rather than an error; degenerate
// output is a quality problem, not a crash.
func (s *Search) Decode(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	if enc == nil {
		enc = mat.New(0, 0)
	}

	var (
		results []Hypothesis
		err     error
	)
	switch {
	case s.beamSize == 1:
		results, err = s.greedy(ctx, enc)
	case s.searchType == SearchTSD:
		results, err = s.timeSync(ctx, enc)
	case s.searchType == SearchALSD:
		results, err = s.alignLengthSync(ctx, enc)
	case s.searchType == SearchNSC:
		results, err = s.nstepConstrained(ctx, enc)
	default:
		results, err = s.defaultBeam(ctx, enc)
	}
	if err != nil {
		return nil, err
	}
	s.logResult(results)
	return results, nil
}

// decStep is one cached prediction network advance: the output after the full
// prefix, the attention trace, and the state after the prefix.
type decStep struct {
	out   []float32
	att   []float32
	state any
}

// stepCached advances the prediction network for h, reusing an earlier
// advance when the same token prefix was already stepped this decode.
func (s *Search) stepCached(cache map[string]decStep, h Hypothesis) (decStep, error) {
	key := seqKey(h.Yseq)
	if st, ok := cache[key]; ok {
		return st, nil
	}
	out, att, state, err := s.dec.Step(h.Yseq, h.DecState)
	if err != nil {
		return decStep{}, fmt.Errorf("prediction step: %w", err)
	}
	st := decStep{out: out, att: att, state: state}
	cache[key] = st
	return st, nil
}

// logProbs joins one encoder frame with one prediction output and normalises
// the logits in place. A joint output of the wrong width is an integration
// error and is surfaced, not masked.
func (s *Search) logProbs(encFrame, decOut []float32) ([]float32, error) {
	ytu := s.joint.Joint(encFrame, decOut)
	if len(ytu) != s.vocabSize {
		return nil, fmt.Errorf("joint network returned %d logits, want %d", len(ytu), s.vocabSize)
	}
	mat.LogSoftmax(ytu)
	return ytu, nil
}

// rank orders hyps best first, optionally by length-normalised score, and
// truncates to the configured n-best.
func (s *Search) rank(hyps []Hypothesis, normalise bool) []Hypothesis {
	out := append([]Hypothesis(nil), hyps...)
	if normalise {
		sortByNormScore(out)
	} else {
		stableSortByScore(out)
	}
	if len(out) > s.nbest {
		out = out[:s.nbest]
	}
	return out
}

func (s *Search) logResult(results []Hypothesis) {
	if len(results) == 0 {
		return
	}
	best := results[0]
	s.log.Info("transducer search finished",
		"variant", s.variant(),
		"score", best.Score,
		"length", len(best.Yseq),
		"nbest", len(results))
}
