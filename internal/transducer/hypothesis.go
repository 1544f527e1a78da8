package transducer

import (
	"sort"
	"strconv"
	"strings"
)

// Hypothesis is one candidate transducer output. Yseq always begins with the
// blank id; Score is the cumulative joint (plus fused LM) log-probability.
// DecState is the prediction network state before Yseq's newest token, so the
// next Step call consumes exactly that token. Att carries the newest
// attention trace when the prediction network produces one.
//
// DecOuts and LMScores are maintained only by the N-step constrained search,
// which replays stored prediction outputs during prefix merging: DecOuts[k]
// is the network output after consuming Yseq[:k+1], and in that variant
// DecState is the state after the whole of Yseq.
type Hypothesis struct {
	Yseq     []int
	Score    float32
	DecState any
	Att      []float32
	LMState  any
	DecOuts  [][]float32
	LMScores []float32
}

// lastToken returns the newest token of h.
func (h Hypothesis) lastToken() int {
	return h.Yseq[len(h.Yseq)-1]
}

// appendToken returns a copy of seq with tok appended. The copy keeps sibling
// children from sharing growable backing arrays.
func appendToken(seq []int, tok int) []int {
	out := make([]int, len(seq)+1)
	copy(out, seq)
	out[len(seq)] = tok
	return out
}

// appendOut copies outs with out appended, for the same sharing reason as
// appendToken. The rows themselves are never mutated and may be shared.
func appendOut(outs [][]float32, out []float32) [][]float32 {
	next := make([][]float32, len(outs)+1)
	copy(next, outs)
	next[len(outs)] = out
	return next
}

func copyFloats(x []float32) []float32 {
	if x == nil {
		return nil
	}
	return append([]float32(nil), x...)
}

// seqKey renders a token sequence as a map key.
func seqKey(seq []int) string {
	var b strings.Builder
	for i, v := range seq {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func equalSeq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isPrefix reports whether pref is a strict prefix of seq.
func isPrefix(seq, pref []int) bool {
	if len(pref) >= len(seq) {
		return false
	}
	for i := range pref {
		if pref[i] != seq[i] {
			return false
		}
	}
	return true
}

// stableSortByScore orders hyps best-first. Stable keeps insertion order
// among equal scores, which makes repeated ranking reproducible.
func stableSortByScore(hyps []Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool { return hyps[i].Score > hyps[j].Score })
}

// sortByNormScore orders hyps best-first by length-normalised score.
func sortByNormScore(hyps []Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool {
		return hyps[i].Score/float32(len(hyps[i].Yseq)) > hyps[j].Score/float32(len(hyps[j].Yseq))
	})
}

// topK returns the k best hypotheses by score without mutating hyps.
func topK(hyps []Hypothesis, k int) []Hypothesis {
	out := append([]Hypothesis(nil), hyps...)
	stableSortByScore(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}
