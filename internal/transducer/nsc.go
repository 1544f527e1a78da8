package transducer

import (
	"context"
	"sort"

	"github.com/samcharles93/lattice/internal/mat"
)

// nstepConstrained is the N-step constrained search. Before a frame is
// expanded, each kept hypothesis that is a strict prefix of a longer one
// within prefixAlpha tokens has its continuation mass folded into the longer
// hypothesis, scored against the current frame through the stored prediction
// outputs. Expansion then runs nstep fixed-width rounds: blank extensions
// settle immediately, the best beam-many label extensions become candidates
// and are pruned with already-expanded sequences subtracted so no sequence
// is scored twice in one frame, and the last round charges each survivor the
// blank it needs to leave the frame. Final ranking is length-normalised.
func (s *Search) nstepConstrained(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	wRange := min(s.beamSize, s.vocabSize)
	beamK := min(wRange, s.vocabSize-1)
	cache := make(map[string]decStep)
	scratch := make([]float32, s.vocabSize)
	var labels mat.TopK

	seed := Hypothesis{Yseq: []int{s.blank}, DecState: s.dec.ZeroState()}
	st, err := s.stepCached(cache, seed)
	if err != nil {
		return nil, err
	}
	seed.DecState = st.state
	seed.Att = copyFloats(st.att)
	seed.DecOuts = [][]float32{st.out}
	if s.lm != nil {
		seed.LMState, seed.LMScores = s.lm.Predict(nil, s.blank)
	}
	kept := []Hypothesis{seed}

	for t := 0; t < enc.R; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := enc.Row(t)

		hyps := append([]Hypothesis(nil), kept...)
		sort.SliceStable(hyps, func(i, j int) bool { return len(hyps[i].Yseq) > len(hyps[j].Yseq) })
		kept = nil

		if err := s.mergePrefixes(hi, hyps); err != nil {
			return nil, err
		}

		var settled []Hypothesis
		var cands []Hypothesis

		for n := 0; n < s.nstep; n++ {
			for _, hyp := range hyps {
				ytu, err := s.logProbs(hi, hyp.DecOuts[len(hyp.DecOuts)-1])
				if err != nil {
					return nil, err
				}
				settled = append(settled, Hypothesis{
					Yseq:     hyp.Yseq,
					Score:    hyp.Score + ytu[s.blank],
					DecState: hyp.DecState,
					Att:      hyp.Att,
					LMState:  hyp.LMState,
					DecOuts:  hyp.DecOuts,
					LMScores: hyp.LMScores,
				})

				copy(scratch, ytu)
				scratch[s.blank] = mat.LogZero
				ids, vals := labels.Select(scratch, beamK)
				for i, k := range ids {
					child := Hypothesis{
						Yseq:     appendToken(hyp.Yseq, k),
						Score:    hyp.Score + vals[i],
						DecState: hyp.DecState,
						Att:      hyp.Att,
						LMState:  hyp.LMState,
						DecOuts:  hyp.DecOuts,
						LMScores: hyp.LMScores,
					}
					if s.lm != nil {
						child.Score += s.lmWeight * hyp.LMScores[k]
					}
					cands = append(cands, child)
				}
			}

			stableSortByScore(cands)
			cands = subtractExpanded(cands, hyps)
			if len(cands) > wRange {
				cands = cands[:wRange]
			}

			outs := make([][]float32, len(cands))
			atts := make([][]float32, len(cands))
			states := make([]any, len(cands))
			for i := range cands {
				st, err := s.stepCached(cache, cands[i])
				if err != nil {
					return nil, err
				}
				outs[i], atts[i], states[i] = st.out, st.att, st.state
			}
			var lmStates []any
			var lmScores [][]float32
			if s.lm != nil {
				lmStates, lmScores = s.predictAll(cands)
			}

			last := n == s.nstep-1
			for i := range cands {
				if last && s.nstep > 1 {
					ytu, err := s.logProbs(hi, outs[i])
					if err != nil {
						return nil, err
					}
					cands[i].Score += ytu[s.blank]
				}
				cands[i].DecState = states[i]
				cands[i].Att = copyFloats(atts[i])
				cands[i].DecOuts = appendOut(cands[i].DecOuts, outs[i])
				if s.lm != nil {
					cands[i].LMState = lmStates[i]
					cands[i].LMScores = lmScores[i]
				}
			}
			if !last {
				hyps = append([]Hypothesis(nil), cands...)
			}
		}

		kept = topK(append(settled, cands...), wRange)
	}

	return s.rank(kept, true), nil
}

// mergePrefixes folds shorter hypotheses into longer ones they are a strict
// prefix of, within the configured length gap. The continuation score walks
// the longer hypothesis's remaining tokens against the current frame using
// its stored prediction outputs. Scores update in place while iteration
// continues over the original ordering, so later pairs may read already
// merged scores.
func (s *Search) mergePrefixes(hi []float32, hyps []Hypothesis) error {
	for j := 0; j < len(hyps)-1; j++ {
		for i := j + 1; i < len(hyps); i++ {
			if !isPrefix(hyps[j].Yseq, hyps[i].Yseq) {
				continue
			}
			if len(hyps[j].Yseq)-len(hyps[i].Yseq) > s.prefixAlpha {
				continue
			}

			next := len(hyps[i].Yseq)
			ytu, err := s.logProbs(hi, hyps[i].DecOuts[len(hyps[i].DecOuts)-1])
			if err != nil {
				return err
			}
			score := hyps[i].Score + ytu[hyps[j].Yseq[next]]
			for k := next; k < len(hyps[j].Yseq)-1; k++ {
				ytu, err = s.logProbs(hi, hyps[j].DecOuts[k])
				if err != nil {
					return err
				}
				score += ytu[hyps[j].Yseq[k+1]]
			}

			hyps[j].Score = mat.LogAddExp(hyps[j].Score, score)
		}
	}
	return nil
}

// subtractExpanded drops candidates whose output sequence matches an already
// expanded hypothesis.
func subtractExpanded(cands, expanded []Hypothesis) []Hypothesis {
	out := cands[:0:0]
	for _, c := range cands {
		dup := false
		for _, e := range expanded {
			if equalSeq(c.Yseq, e.Yseq) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// predictAll advances the language model for every candidate, using the
// fused batch form when the model provides one.
func (s *Search) predictAll(cands []Hypothesis) ([]any, [][]float32) {
	if blm, ok := s.lm.(BatchLanguageModel); ok && len(cands) > 0 {
		prev := make([]any, len(cands))
		tokens := make([]int, len(cands))
		for i, h := range cands {
			prev[i] = h.LMState
			tokens[i] = h.lastToken()
		}
		return blm.BuffPredict(prev, tokens)
	}
	states := make([]any, len(cands))
	scores := make([][]float32, len(cands))
	for i, h := range cands {
		states[i], scores[i] = s.lm.Predict(h.LMState, h.lastToken())
	}
	return states, scores
}
