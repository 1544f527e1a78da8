package decoder

import (
	"fmt"
	"sort"

	"github.com/samcharles93/lattice/internal/mat"
)

// Scorer is the base contract every ensemble member satisfies. InitState
// builds the scorer's zero state for a fresh hypothesis; a nil state is valid
// and means "derive on first use".
//
// State values are opaque to the engine and treated as immutable: a scorer
// must never mutate a state it received, only return new ones. The engine
// relies on this to share states between sibling hypotheses safely.
type Scorer interface {
	InitState(enc *mat.Matrix) any
}

// FullScorer scores the entire vocabulary at every step, e.g. an attention
// decoder or a language model. The returned slice holds one log-probability
// per vocabulary id.
type FullScorer interface {
	Scorer
	Score(yseq []int, state any, enc *mat.Matrix) ([]float32, any, error)
}

// PartialScorer scores only a candidate subset chosen by the engine, e.g.
// CTC prefix scoring restricted to the pre-beam. The returned scores align
// with cands. The returned state covers all candidates at once; SelectState
// narrows it to the k-th candidate when a child hypothesis is built.
type PartialScorer interface {
	Scorer
	ScorePartial(yseq []int, cands []int, state any, enc *mat.Matrix) ([]float32, any, error)
	SelectState(state any, k int) any
}

// BatchFullScorer is an optional capability: scoring all hypotheses of a
// batched beam in one fused call. Engines fall back to per-row Score calls
// when a full scorer does not provide it.
type BatchFullScorer interface {
	FullScorer
	BatchScore(yseqs [][]int, states []any, enc *mat.Matrix) ([][]float32, []any, error)
}

// StreamingScorer is an optional capability for blockwise decoding.
// ExtendProb re-derives input-keyed caches after the encoder output grew;
// ExtendState brings a hypothesis state up to the new input length. Returning
// nil from ExtendState forces re-initialisation on next use, which is also
// how the engine invalidates states after window truncation.
type StreamingScorer interface {
	ExtendProb(enc *mat.Matrix)
	ExtendState(state any) any
}

// FinalScorer is an optional capability: a score contribution added once
// when a hypothesis ends, e.g. a word LM closing its last context.
type FinalScorer interface {
	FinalScore(state any) float32
}

// scorerEntry is a scorer with its capabilities resolved once at engine
// construction. The step loop branches on these fields instead of repeating
// type assertions.
type scorerEntry struct {
	name    string
	weight  float32
	full    FullScorer
	partial PartialScorer
	batch   BatchFullScorer
	stream  StreamingScorer
	final   FinalScorer
}

// resolveScorers validates the scorer/weight tables and splits the ensemble
// into full and partial entries in deterministic (name-sorted) order. Zero
// weighted and nil scorers are dropped, which disables them without removing
// them from the caller's table.
func resolveScorers(scorers map[string]Scorer, weights map[string]float32) (full, partial []scorerEntry, err error) {
	for name := range weights {
		if _, ok := scorers[name]; !ok {
			return nil, nil, fmt.Errorf("%w: weight %q names no scorer", ErrInvalidConfig, name)
		}
	}

	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := scorers[name]
		w := weights[name]
		if sc == nil || w == 0 {
			continue
		}
		e := scorerEntry{name: name, weight: w}
		if p, ok := sc.(PartialScorer); ok {
			e.partial = p
			partial = append(partial, fillOptional(e, sc))
			continue
		}
		f, ok := sc.(FullScorer)
		if !ok {
			return nil, nil, fmt.Errorf("%w: scorer %q implements neither FullScorer nor PartialScorer", ErrInvalidConfig, name)
		}
		e.full = f
		if b, ok := sc.(BatchFullScorer); ok {
			e.batch = b
		}
		full = append(full, fillOptional(e, sc))
	}
	return full, partial, nil
}

func fillOptional(e scorerEntry, sc Scorer) scorerEntry {
	if st, ok := sc.(StreamingScorer); ok {
		e.stream = st
	}
	if fs, ok := sc.(FinalScorer); ok {
		e.final = fs
	}
	return e
}
