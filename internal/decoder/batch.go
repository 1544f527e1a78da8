package decoder

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
)

// batchHyps holds the running beam as a structure of slices so scorers that
// support fused scoring can see the whole beam at once. Row i across every
// field describes one hypothesis.
type batchHyps struct {
	yseq   [][]int
	score  []float32
	scores map[string][]float32
	states map[string][]any
}

func (b *batchHyps) n() int { return len(b.yseq) }

// batchfy regroups per-hypothesis records into the column layout. Token
// sequences are shared, not copied; they are never mutated in place.
func (s *BeamSearch) batchfy(hyps []Hypothesis) *batchHyps {
	b := &batchHyps{
		yseq:   make([][]int, len(hyps)),
		score:  make([]float32, len(hyps)),
		scores: make(map[string][]float32, len(s.full)+len(s.partial)),
		states: make(map[string][]any, len(s.full)+len(s.partial)),
	}
	for i, h := range hyps {
		b.yseq[i] = h.Yseq
		b.score[i] = h.Score
	}
	for _, group := range [][]scorerEntry{s.full, s.partial} {
		for _, e := range group {
			sc := make([]float32, len(hyps))
			st := make([]any, len(hyps))
			for i, h := range hyps {
				sc[i] = h.Scores[e.name]
				st[i] = h.States[e.name]
			}
			b.scores[e.name] = sc
			b.states[e.name] = st
		}
	}
	return b
}

// unbatchfy is the inverse of batchfy.
func (s *BeamSearch) unbatchfy(b *batchHyps) []Hypothesis {
	hyps := make([]Hypothesis, b.n())
	for i := range hyps {
		scores := make(map[string]float32, len(b.scores))
		states := make(map[string]any, len(b.states))
		for name, sc := range b.scores {
			scores[name] = sc[i]
		}
		for name, st := range b.states {
			states[name] = st[i]
		}
		hyps[i] = Hypothesis{
			Yseq:   b.yseq[i],
			Score:  b.score[i],
			Scores: scores,
			States: states,
		}
	}
	return hyps
}

// BatchBeamSearch scores the whole beam per step instead of one hypothesis at
// a time. Scorers implementing BatchFullScorer get a single fused call; the
// rest are driven row by row. Results are identical to the sequential engine.
type BatchBeamSearch struct {
	*BeamSearch
}

// NewBatch builds a batched engine from the same options as New.
func NewBatch(opts Options) (*BatchBeamSearch, error) {
	core, err := New(opts)
	if err != nil {
		return nil, err
	}
	return &BatchBeamSearch{BeamSearch: core}, nil
}

// Decode runs the batched search over enc. Semantics match
// BeamSearch.Decode, including the relaxed-minimum-length retry.
func (bs *BatchBeamSearch) Decode(ctx context.Context, enc *mat.Matrix) ([]Hypothesis, error) {
	return bs.decodeWithRetry(ctx, enc, bs.decodeOnceBatch)
}

func (bs *BatchBeamSearch) decodeOnceBatch(ctx context.Context, enc *mat.Matrix, minRatio float32) ([]Hypothesis, error) {
	maxlen, minlen := bs.lengthBounds(enc.R, minRatio)
	bs.log.Info("decoder input", "frames", enc.R, "maxlen", maxlen, "minlen", minlen)

	running := bs.batchfy(bs.initHyps(enc))
	var ended []Hypothesis
	for i := 0; i < maxlen; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bs.log.Debug("search step", "position", i)
		best, err := bs.searchBatch(running, enc)
		if err != nil {
			return nil, err
		}
		remained := bs.postProcess(i, maxlen, minlen, best, &ended)
		if bs.maxLenRatio == 0 && endDetect(ended, i, bs.lookback, bs.threshold) {
			bs.log.Info("end detected", "position", i)
			break
		}
		if len(remained) == 0 {
			bs.log.Debug("no remaining hypotheses", "position", i)
			break
		}
		running = bs.batchfy(remained)
	}
	return bs.assemble(ended), nil
}

// searchBatch expands every running hypothesis by one token and returns the
// beam of children, best first.
func (bs *BatchBeamSearch) searchBatch(running *batchHyps, enc *mat.Matrix) ([]Hypothesis, error) {
	n := running.n()
	weighted := mat.New(n, bs.vocabSize)

	fullScores := make(map[string][][]float32, len(bs.full))
	fullStates := make(map[string][]any, len(bs.full))
	for _, e := range bs.full {
		var (
			sc  [][]float32
			st  []any
			err error
		)
		if e.batch != nil {
			sc, st, err = e.batch.BatchScore(running.yseq, running.states[e.name], enc)
			if err != nil {
				return nil, fmt.Errorf("scorer %q: %w", e.name, err)
			}
			if len(sc) != n || len(st) != n {
				return nil, fmt.Errorf("scorer %q: returned %d score rows and %d states for %d hypotheses", e.name, len(sc), len(st), n)
			}
		} else {
			sc = make([][]float32, n)
			st = make([]any, n)
			for i := 0; i < n; i++ {
				sc[i], st[i], err = e.full.Score(running.yseq[i], running.states[e.name][i], enc)
				if err != nil {
					return nil, fmt.Errorf("scorer %q: %w", e.name, err)
				}
			}
		}
		for i := 0; i < n; i++ {
			if len(sc[i]) != bs.vocabSize {
				return nil, fmt.Errorf("scorer %q: returned %d scores, vocabulary has %d", e.name, len(sc[i]), bs.vocabSize)
			}
			row := weighted.Row(i)
			for v, x := range sc[i] {
				row[v] += e.weight * x
			}
		}
		fullScores[e.name] = sc
		fullStates[e.name] = st
	}

	var cands [][]int
	if bs.doPreBeam() {
		cands = make([][]int, n)
		for i := 0; i < n; i++ {
			src := weighted.Row(i)
			if bs.preBeamKey != PreBeamKeyFull {
				src = fullScores[bs.preBeamKey][i]
			}
			ids, _ := bs.preTopk.Select(src, bs.preBeamSize)
			cands[i] = append([]int(nil), ids...)
		}
	}

	var allIDs []int
	partScores := make(map[string][][]float32, len(bs.partial))
	partStates := make(map[string][]any, len(bs.partial))
	for _, e := range bs.partial {
		sc := make([][]float32, n)
		st := make([]any, n)
		for i := 0; i < n; i++ {
			var ids []int
			if cands != nil {
				ids = cands[i]
			} else {
				if allIDs == nil {
					allIDs = arange(bs.vocabSize)
				}
				ids = allIDs
			}
			rowSc, rowSt, err := e.partial.ScorePartial(running.yseq[i], ids, running.states[e.name][i], enc)
			if err != nil {
				return nil, fmt.Errorf("scorer %q: %w", e.name, err)
			}
			if len(rowSc) != len(ids) {
				return nil, fmt.Errorf("scorer %q: returned %d scores for %d candidates", e.name, len(rowSc), len(ids))
			}
			row := weighted.Row(i)
			for k, id := range ids {
				row[id] += e.weight * rowSc[k]
			}
			sc[i] = rowSc
			st[i] = rowSt
		}
		partScores[e.name] = sc
		partStates[e.name] = st
	}

	for i := 0; i < n; i++ {
		row := weighted.Row(i)
		for v := range row {
			row[v] += running.score[i]
		}
		if cands != nil {
			maskOutside(row, cands[i])
		}
	}

	// One selection over the flattened beam-by-vocabulary grid; division
	// recovers the parent row, the remainder the token.
	flatIDs, flatScores := bs.topk.Select(weighted.Data, bs.beamSize)
	children := make([]Hypothesis, 0, len(flatIDs))
	for k, flat := range flatIDs {
		row := flat / bs.vocabSize
		tok := flat % bs.vocabSize

		scores := make(map[string]float32, len(bs.full)+len(bs.partial))
		states := make(map[string]any, len(bs.full)+len(bs.partial))
		for _, e := range bs.full {
			scores[e.name] = running.scores[e.name][row] + fullScores[e.name][row][tok]
			states[e.name] = fullStates[e.name][row]
		}
		localIdx := tok
		if cands != nil {
			localIdx = indexOf(cands[row], tok)
		}
		for _, e := range bs.partial {
			scores[e.name] = running.scores[e.name][row] + partScores[e.name][row][localIdx]
			states[e.name] = e.partial.SelectState(partStates[e.name][row], localIdx)
		}
		children = append(children, Hypothesis{
			Yseq:   appendToken(running.yseq[row], tok),
			Score:  flatScores[k],
			Scores: scores,
			States: states,
		})
	}
	return children, nil
}
