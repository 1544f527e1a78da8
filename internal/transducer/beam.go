package transducer

import (
	"context"

	"github.com/samcharles93/lattice/internal/mat"
)

// defaultBeam is the standard transducer beam search. Per frame, the best
// pending hypothesis is expanded: its blank extension settles into the kept
// set with no sequence growth, the best beam-many label extensions re-enter
// the pending set. The frame is finished once at least beam-many kept
// hypotheses outscore everything still pending, at which point only those
// survivors carry over.
func (s *Search) defaultBeam(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	kRange := min(s.beamSize, s.vocabSize)
	beamK := min(kRange, s.vocabSize-1)
	cache := make(map[string]decStep)
	scratch := make([]float32, s.vocabSize)
	var labels mat.TopK

	kept := []Hypothesis{{Yseq: []int{s.blank}, DecState: s.dec.ZeroState()}}

	for t := 0; t < enc.R; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := enc.Row(t)
		hyps := kept
		kept = nil

		for {
			bi := 0
			for j := 1; j < len(hyps); j++ {
				if hyps[j].Score > hyps[bi].Score {
					bi = j
				}
			}
			hyp := hyps[bi]
			hyps = append(hyps[:bi], hyps[bi+1:]...)

			st, err := s.stepCached(cache, hyp)
			if err != nil {
				return nil, err
			}
			ytu, err := s.logProbs(hi, st.out)
			if err != nil {
				return nil, err
			}

			var lmState any
			var lmScores []float32
			if s.lm != nil {
				lmState, lmScores = s.lm.Predict(hyp.LMState, hyp.lastToken())
			}

			kept = append(kept, Hypothesis{
				Yseq:     hyp.Yseq,
				Score:    hyp.Score + ytu[s.blank],
				DecState: hyp.DecState,
				Att:      hyp.Att,
				LMState:  hyp.LMState,
			})

			copy(scratch, ytu)
			scratch[s.blank] = mat.LogZero
			ids, vals := labels.Select(scratch, beamK)
			for i, k := range ids {
				child := Hypothesis{
					Yseq:     appendToken(hyp.Yseq, k),
					Score:    hyp.Score + vals[i],
					DecState: st.state,
					Att:      copyFloats(st.att),
					LMState:  hyp.LMState,
				}
				if s.lm != nil {
					child.LMState = lmState
					child.Score += s.lmWeight * lmScores[k]
				}
				hyps = append(hyps, child)
			}

			pendingBest := hyps[0].Score
			for _, h := range hyps[1:] {
				if h.Score > pendingBest {
					pendingBest = h.Score
				}
			}
			above := 0
			for _, h := range kept {
				if h.Score > pendingBest {
					above++
				}
			}
			if above >= kRange {
				survivors := kept[:0:0]
				for _, h := range kept {
					if h.Score > pendingBest {
						survivors = append(survivors, h)
					}
				}
				kept = survivors
				break
			}
		}
	}

	return s.rank(kept, s.scoreNorm), nil
}
