package transducer

import (
	"context"

	"github.com/samcharles93/lattice/internal/mat"
)

// alignLengthSync sweeps a combined alignment index i = t + u, so every
// hypothesis considered in one iteration shares the same total alignment
// length: a hypothesis with u emitted tokens reads frame t = i - u.
// Hypotheses whose blank extension lands on the last frame graduate to the
// finalist pool; equal output sequences among the pruned survivors recombine
// by log-add-exp.
func (s *Search) alignLengthSync(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	wRange := min(s.beamSize, s.vocabSize)
	frames := enc.R
	uMax := min(s.uMax, frames-1)
	cache := make(map[string]decStep)

	beam := []Hypothesis{{Yseq: []int{s.blank}, DecState: s.dec.ZeroState()}}
	var finalists []Hypothesis

	for i := 0; i < frames+uMax; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []Hypothesis

		for _, hyp := range beam {
			u := len(hyp.Yseq) - 1
			t := i - u
			if t > frames-1 {
				continue
			}

			st, err := s.stepCached(cache, hyp)
			if err != nil {
				return nil, err
			}
			ytu, err := s.logProbs(enc.Row(t), st.out)
			if err != nil {
				return nil, err
			}

			blankExt := Hypothesis{
				Yseq:     hyp.Yseq,
				Score:    hyp.Score + ytu[s.blank],
				DecState: hyp.DecState,
				Att:      hyp.Att,
				LMState:  hyp.LMState,
			}
			next = append(next, blankExt)
			if t == frames-1 {
				finalists = append(finalists, blankExt)
			}

			var lmState any
			var lmScores []float32
			if s.lm != nil {
				lmState, lmScores = s.lm.Predict(hyp.LMState, hyp.lastToken())
			}
			for k := 0; k < s.vocabSize; k++ {
				if k == s.blank {
					continue
				}
				child := Hypothesis{
					Yseq:     appendToken(hyp.Yseq, k),
					Score:    hyp.Score + ytu[k],
					DecState: st.state,
					Att:      copyFloats(st.att),
					LMState:  hyp.LMState,
				}
				if s.lm != nil {
					child.LMState = lmState
					child.Score += s.lmWeight * lmScores[k]
				}
				next = append(next, child)
			}
		}

		beam = recombine(topK(next, wRange))
	}

	if len(finalists) > 0 {
		return s.rank(finalists, false), nil
	}
	return s.rank(beam, false), nil
}

// recombine merges hypotheses with equal output sequences by log-add-exp,
// keeping the first occurrence's states and order.
func recombine(hyps []Hypothesis) []Hypothesis {
	out := hyps[:0:0]
	index := make(map[string]int, len(hyps))
	for _, h := range hyps {
		key := seqKey(h.Yseq)
		if pos, ok := index[key]; ok {
			out[pos].Score = mat.LogAddExp(out[pos].Score, h.Score)
			continue
		}
		index[key] = len(out)
		out = append(out, h)
	}
	return out
}
