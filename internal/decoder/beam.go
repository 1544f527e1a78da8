package decoder

import (
	"context"
	"fmt"
	"math"

	"github.com/samcharles93/lattice/internal/mat"
)

var negInf = float32(math.Inf(-1))

// Decode runs the full search over enc and returns every completed
// hypothesis, best first. When no hypothesis completes naturally the search
// retries with a progressively relaxed minimum-length constraint before
// giving up with an empty (non-nil) result.
func (s *BeamSearch) Decode(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	return s.decodeWithRetry(ctx, enc, s.decodeOnce)
}

// decodeWithRetry wraps a single search pass in the degenerate-result
// recovery policy shared by the sequential and batched engines.
func (s *BeamSearch) decodeWithRetry(ctx context.Context, enc *mat.Matrix,
	once func(context.Context, *mat.Matrix, float32) ([]Hypothesis, error),
) ([]Hypothesis, error) {
	minRatio := s.minLenRatio
	for {
		results, err := once(ctx, enc, minRatio)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			s.logResult(results)
			return results, nil
		}
		if minRatio < 0.1 {
			return []Hypothesis{}, nil
		}
		s.log.Warn("no ended hypotheses, retrying with relaxed minimum length", "minlenratio", minRatio)
		minRatio = max(0, minRatio-0.1)
	}
}

func (s *BeamSearch) decodeOnce(ctx context.Context, enc *mat.Matrix, minRatio float32) ([]Hypothesis, error) {
	maxlen, minlen := s.lengthBounds(enc.R, minRatio)
	s.log.Info("decoder input", "frames", enc.R, "maxlen", maxlen, "minlen", minlen)

	running := s.initHyps(enc)
	var ended []Hypothesis
	for i := 0; i < maxlen; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.log.Debug("position", "step", i)
		best, err := s.search(running, enc)
		if err != nil {
			return nil, err
		}
		running = s.postProcess(i, maxlen, minlen, best, &ended)
		if s.maxLenRatio == 0 && endDetect(ended, i, s.lookback, s.threshold) {
			s.log.Info("end detected", "step", i)
			break
		}
		if len(running) == 0 {
			s.log.Debug("no running hypotheses left", "step", i)
			break
		}
	}
	return s.assemble(ended), nil
}

// search expands every running hypothesis by one token and returns the
// pruned next generation, at most beamSize hypotheses.
func (s *BeamSearch) search(running []Hypothesis, enc *mat.Matrix) ([]Hypothesis, error) {
	var best []Hypothesis
	var allIDs []int
	weighted := make([]float32, s.vocabSize)

	for _, hyp := range running {
		for i := range weighted {
			weighted[i] = 0
		}

		// full scorers cover the whole vocabulary
		fullScores := make(map[string][]float32, len(s.full))
		fullStates := make(map[string]any, len(s.full))
		for _, e := range s.full {
			sc, st, err := e.full.Score(hyp.Yseq, hyp.States[e.name], enc)
			if err != nil {
				return nil, fmt.Errorf("scorer %s: %w", e.name, err)
			}
			if len(sc) != s.vocabSize {
				return nil, fmt.Errorf("scorer %s: scored %d of %d tokens", e.name, len(sc), s.vocabSize)
			}
			fullScores[e.name] = sc
			fullStates[e.name] = st
			for v, x := range sc {
				weighted[v] += e.weight * x
			}
		}

		// candidate restriction for partial scorers
		var cands []int
		if s.doPreBeam() {
			src := weighted
			if s.preBeamKey != PreBeamKeyFull {
				src = fullScores[s.preBeamKey]
			}
			cands, _ = s.preTopk.Select(src, s.preBeamSize)
		} else {
			if allIDs == nil {
				allIDs = arange(s.vocabSize)
			}
			cands = allIDs
		}

		partScores := make(map[string][]float32, len(s.partial))
		partStates := make(map[string]any, len(s.partial))
		for _, e := range s.partial {
			sc, st, err := e.partial.ScorePartial(hyp.Yseq, cands, hyp.States[e.name], enc)
			if err != nil {
				return nil, fmt.Errorf("scorer %s: %w", e.name, err)
			}
			if len(sc) != len(cands) {
				return nil, fmt.Errorf("scorer %s: scored %d of %d candidates", e.name, len(sc), len(cands))
			}
			partScores[e.name] = sc
			partStates[e.name] = st
			for ci, id := range cands {
				weighted[id] += e.weight * sc[ci]
			}
		}

		for i := range weighted {
			weighted[i] += hyp.Score
		}

		// pre-beamed steps may only pick restricted candidates
		if s.doPreBeam() {
			maskOutside(weighted, cands)
		}
		tokens, scores := s.topk.Select(weighted, s.beamSize)

		for ti, tok := range tokens {
			localIdx := tok
			if s.doPreBeam() {
				localIdx = indexOf(cands, tok)
			}

			newScores := make(map[string]float32, len(hyp.Scores))
			newStates := make(map[string]any, len(hyp.States))
			for _, e := range s.full {
				newScores[e.name] = hyp.Scores[e.name] + fullScores[e.name][tok]
				newStates[e.name] = fullStates[e.name]
			}
			for _, e := range s.partial {
				newScores[e.name] = hyp.Scores[e.name] + partScores[e.name][localIdx]
				newStates[e.name] = e.partial.SelectState(partStates[e.name], localIdx)
			}

			best = append(best, Hypothesis{
				Yseq:   appendToken(hyp.Yseq, tok),
				Score:  scores[ti],
				Scores: newScores,
				States: newStates,
			})
		}

		stableSortByScore(best)
		if len(best) > s.beamSize {
			best = best[:s.beamSize]
		}
	}
	return best, nil
}

func arange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// maskOutside lowers every entry of x outside keep to -inf so top-k cannot
// select it.
func maskOutside(x []float32, keep []int) {
	vals := make([]float32, len(keep))
	for i, id := range keep {
		vals[i] = x[id]
	}
	for i := range x {
		x[i] = negInf
	}
	for i, id := range keep {
		x[id] = vals[i]
	}
}

func indexOf(ids []int, id int) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
