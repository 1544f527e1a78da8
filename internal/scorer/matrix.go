package scorer

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
)

// Playback replays a precomputed log-probability matrix, one row per output
// position. Positions past the last row clamp to it, so decoding may run
// longer than the matrix without falling off the end.
type Playback struct {
	m *mat.Matrix
}

// NewPlayback builds a playback scorer over m (rows are output positions,
// columns vocabulary ids).
func NewPlayback(m *mat.Matrix) (*Playback, error) {
	if m == nil || m.R == 0 {
		return nil, ErrNoFrames
	}
	return &Playback{m: m.Clone()}, nil
}

func (s *Playback) InitState(enc *mat.Matrix) any { return nil }

func (s *Playback) Score(yseq []int, state any, enc *mat.Matrix) ([]float32, any, error) {
	pos := len(yseq) - 1
	if pos >= s.m.R {
		pos = s.m.R - 1
	}
	return s.m.Row(pos), nil, nil
}

// BatchScore scores the whole beam in one pass; playback rows depend only on
// prefix length, so the fused form is a plain loop.
func (s *Playback) BatchScore(yseqs [][]int, states []any, enc *mat.Matrix) ([][]float32, []any, error) {
	scores := make([][]float32, len(yseqs))
	next := make([]any, len(yseqs))
	for i, y := range yseqs {
		var err error
		scores[i], next[i], err = s.Score(y, states[i], enc)
		if err != nil {
			return nil, nil, err
		}
	}
	return scores, next, nil
}

// Bigram scores next tokens from a square transition table indexed by the
// newest token of the prefix.
type Bigram struct {
	table *mat.Matrix
}

// NewBigram builds a bigram language model from table, where row i holds the
// log-probabilities of every token following token i.
func NewBigram(table *mat.Matrix) (*Bigram, error) {
	if table == nil || table.R == 0 {
		return nil, ErrNoFrames
	}
	if table.R != table.C {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, table.R, table.C)
	}
	return &Bigram{table: table.Clone()}, nil
}

func (s *Bigram) InitState(enc *mat.Matrix) any { return nil }

func (s *Bigram) Score(yseq []int, state any, enc *mat.Matrix) ([]float32, any, error) {
	last := yseq[len(yseq)-1]
	if last < 0 || last >= s.table.R {
		return nil, nil, fmt.Errorf("%w: %d", ErrTokenRange, last)
	}
	return s.table.Row(last), nil, nil
}

func (s *Bigram) BatchScore(yseqs [][]int, states []any, enc *mat.Matrix) ([][]float32, []any, error) {
	scores := make([][]float32, len(yseqs))
	next := make([]any, len(yseqs))
	for i, y := range yseqs {
		var err error
		scores[i], next[i], err = s.Score(y, states[i], enc)
		if err != nil {
			return nil, nil, err
		}
	}
	return scores, next, nil
}

// Predict makes the table usable as a transducer fusion model: consuming
// token, it returns the transition row for what may follow. Tokens outside
// the table clamp to its edge rather than failing, since the transducer
// contract carries no error path.
func (s *Bigram) Predict(state any, token int) (any, []float32) {
	if token < 0 {
		token = 0
	}
	if token >= s.table.R {
		token = s.table.R - 1
	}
	return nil, s.table.Row(token)
}

// BuffPredict is the fused form of Predict across hypotheses.
func (s *Bigram) BuffPredict(states []any, tokens []int) ([]any, [][]float32) {
	next := make([]any, len(tokens))
	scores := make([][]float32, len(tokens))
	for i, tok := range tokens {
		next[i], scores[i] = s.Predict(states[i], tok)
	}
	return next, scores
}
