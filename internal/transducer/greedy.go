package transducer

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
)

// greedy decodes with a single hypothesis, taking the arg-max token at every
// frame. The frame index advances once per iteration regardless of what was
// emitted; a non-blank emission updates the prediction network so later
// frames see the grown sequence. Blank emissions contribute no score.
func (s *Search) greedy(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	hyp := Hypothesis{Yseq: []int{s.blank}, DecState: s.dec.ZeroState()}

	out, att, state, err := s.dec.Step(hyp.Yseq, hyp.DecState)
	if err != nil {
		return nil, fmt.Errorf("prediction step: %w", err)
	}

	for t := 0; t < enc.R; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ytu, err := s.logProbs(enc.Row(t), out)
		if err != nil {
			return nil, err
		}
		best := mat.ArgMax(ytu)
		if best == s.blank {
			continue
		}

		hyp.Yseq = append(hyp.Yseq, best)
		hyp.Score += ytu[best]
		hyp.DecState = state
		hyp.Att = copyFloats(att)

		out, att, state, err = s.dec.Step(hyp.Yseq, hyp.DecState)
		if err != nil {
			return nil, fmt.Errorf("prediction step: %w", err)
		}
	}

	return []Hypothesis{hyp}, nil
}
