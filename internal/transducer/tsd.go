package transducer

import (
	"context"

	"github.com/samcharles93/lattice/internal/mat"
)

// timeSync expands up to nstep symbols per encoder frame. Every round settles
// each frontier hypothesis's blank extension into the frame's merged set,
// where hypotheses with equal output sequences combine by log-add-exp instead
// of fragmenting their probability mass; label extensions form the next
// round's frontier. The last round only settles blanks.
func (s *Search) timeSync(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	wRange := min(s.beamSize, s.vocabSize)
	cache := make(map[string]decStep)

	beam := []Hypothesis{{Yseq: []int{s.blank}, DecState: s.dec.ZeroState()}}

	for t := 0; t < enc.R; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := enc.Row(t)

		var merged []Hypothesis
		index := make(map[string]int)
		frontier := beam

		for v := 0; v < s.nstep; v++ {
			var expanded []Hypothesis

			for _, hyp := range frontier {
				st, err := s.stepCached(cache, hyp)
				if err != nil {
					return nil, err
				}
				ytu, err := s.logProbs(hi, st.out)
				if err != nil {
					return nil, err
				}

				key := seqKey(hyp.Yseq)
				if pos, ok := index[key]; ok {
					merged[pos].Score = mat.LogAddExp(merged[pos].Score, hyp.Score+ytu[s.blank])
				} else {
					index[key] = len(merged)
					merged = append(merged, Hypothesis{
						Yseq:     hyp.Yseq,
						Score:    hyp.Score + ytu[s.blank],
						DecState: hyp.DecState,
						Att:      hyp.Att,
						LMState:  hyp.LMState,
					})
				}

				if v == s.nstep-1 {
					continue
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
					expanded = append(expanded, child)
				}
			}

			frontier = topK(expanded, wRange)
		}

		beam = topK(merged, wRange)
	}

	return s.rank(beam, false), nil
}
