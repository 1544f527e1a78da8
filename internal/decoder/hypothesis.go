package decoder

import "sort"

// Hypothesis is one candidate output sequence under construction. Yseq always
// begins with the start-of-sequence id; Score is the cumulative weighted
// log-probability; Scores splits it per scorer and States carries each
// scorer's opaque per-hypothesis state.
//
// Hypotheses are values: expansion builds fresh Yseq slices and score/state
// maps for every child, so a parent is never written through by its children.
// Scorer states are shared by reference under the engine's contract that
// scorers treat received states as immutable.
type Hypothesis struct {
	Yseq   []int
	Score  float32
	Scores map[string]float32
	States map[string]any
}

// appendToken returns a copy of seq with tok appended. The copy keeps sibling
// children from sharing growable backing arrays.
func appendToken(seq []int, tok int) []int {
	out := make([]int, len(seq)+1)
	copy(out, seq)
	out[len(seq)] = tok
	return out
}

// lastToken returns the newest token of h.
func (h Hypothesis) lastToken() int {
	return h.Yseq[len(h.Yseq)-1]
}

func copyScores(m map[string]float32) map[string]float32 {
	out := make(map[string]float32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// stableSortByScore orders hyps best-first. Stable keeps insertion order
// among equal scores, which makes repeated ranking of the same set
// reproducible.
func stableSortByScore(hyps []Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool { return hyps[i].Score > hyps[j].Score })
}

// sortByNormScore orders hyps best-first by length-normalised score.
func sortByNormScore(hyps []Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool {
		return hyps[i].Score/float32(len(hyps[i].Yseq)) > hyps[j].Score/float32(len(hyps[j].Yseq))
	})
}
