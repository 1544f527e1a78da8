package scorer

import "github.com/samcharles93/lattice/internal/mat"

// LengthBonus scores every token as one, so its mixing weight becomes a flat
// per-token reward that counteracts the length penalty of log-probability
// accumulation.
type LengthBonus struct {
	row []float32
}

// NewLengthBonus builds a bonus scorer for a vocabulary of n ids.
func NewLengthBonus(n int) *LengthBonus {
	row := make([]float32, n)
	for i := range row {
		row[i] = 1
	}
	return &LengthBonus{row: row}
}

func (s *LengthBonus) InitState(enc *mat.Matrix) any { return nil }

func (s *LengthBonus) Score(yseq []int, state any, enc *mat.Matrix) ([]float32, any, error) {
	return s.row, nil, nil
}

func (s *LengthBonus) BatchScore(yseqs [][]int, states []any, enc *mat.Matrix) ([][]float32, []any, error) {
	scores := make([][]float32, len(yseqs))
	next := make([]any, len(yseqs))
	for i := range yseqs {
		scores[i] = s.row
	}
	return scores, next, nil
}
