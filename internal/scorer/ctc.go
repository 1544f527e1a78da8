// Package scorer provides the scorer implementations the decoding engines
// drive: CTC prefix scoring, log-prob playback from precomputed matrices, a
// table language model and a length bonus.
package scorer

import (
	"github.com/samcharles93/lattice/internal/mat"
)

// Prefix computes label-synchronous CTC prefix scores over a frame-level
// log-probability matrix. It scores candidate subsets (the engine's partial
// contract) and supports blockwise input growth.
type Prefix struct {
	blank int
	eos   int
	logp  *mat.Matrix
}

// prefixState carries one hypothesis through the forward recursion: the
// prefix's accumulated log prefix probability and the per-frame forward
// table r, laid out as r[t*2] (last label just emitted) and r[t*2+1]
// (trailing blanks).
type prefixState struct {
	score float32
	r     []float32
}

// prefixStates is the undivided result of scoring one candidate set;
// SelectState splits out a single candidate's column.
type prefixStates struct {
	psi []float32
	r   [][]float32
}

// NewPrefix builds a prefix scorer over logp, one row per input frame with
// log-probabilities per vocabulary id. logp may be nil or empty when frames
// arrive through ExtendProb instead.
func NewPrefix(logp *mat.Matrix, blank, eos int) *Prefix {
	p := &Prefix{blank: blank, eos: eos}
	if logp != nil {
		p.logp = logp.Clone()
	} else {
		p.logp = mat.New(0, 0)
	}
	return p
}

// InitState returns nil: the zero state is derived from the frame table on
// first use, which keeps state creation valid before any frames arrived.
func (p *Prefix) InitState(enc *mat.Matrix) any { return nil }

// initialState builds the forward table for the bare start-of-sequence
// prefix: only blank paths are alive.
func (p *Prefix) initialState() *prefixState {
	t := p.logp.R
	r := make([]float32, 2*t)
	for i := 0; i < t; i++ {
		r[i*2] = mat.LogZero
		if i == 0 {
			r[1] = p.logp.Row(0)[p.blank]
		} else {
			r[i*2+1] = r[(i-1)*2+1] + p.logp.Row(i)[p.blank]
		}
	}
	return &prefixState{score: 0, r: r}
}

// ScorePartial scores appending each candidate to yseq. The returned values
// are incremental: the candidate prefix's log probability minus the current
// prefix's. yseq[0] is the start marker and never enters the recursion.
func (p *Prefix) ScorePartial(yseq, cands []int, state any, enc *mat.Matrix) ([]float32, any, error) {
	frames := p.logp.R
	n := len(cands)
	outLen := len(yseq) - 1

	if frames == 0 || outLen > frames {
		scores := make([]float32, n)
		for i := range scores {
			scores[i] = mat.LogZero
		}
		return scores, state, nil
	}

	st, _ := state.(*prefixState)
	if st == nil {
		st = p.initialState()
	} else if len(st.r) < 2*frames {
		st = &prefixState{score: st.score, r: p.extendTable(st.r)}
	}

	// rsum[t] folds both planes of the previous state: the probability of
	// the current prefix being complete at frame t.
	rsum := make([]float32, frames)
	for t := 0; t < frames; t++ {
		rsum[t] = mat.LogAddExp(st.r[t*2], st.r[t*2+1])
	}

	// phi[t*n+i] is the mass that can precede candidate i's first emission
	// at frame t+1. Repeating the newest label must cross a blank, so those
	// columns see only the blank plane.
	last := yseq[len(yseq)-1]
	phi := make([]float32, frames*n)
	for i, c := range cands {
		if outLen > 0 && c == last {
			for t := 0; t < frames; t++ {
				phi[t*n+i] = st.r[t*2+1]
			}
		} else {
			for t := 0; t < frames; t++ {
				phi[t*n+i] = rsum[t]
			}
		}
	}

	// Forward recursion for the extended prefixes. Only the seed row is
	// written ahead of the loop; earlier rows are never read.
	r := make([]float32, frames*2*n)
	if outLen == 0 {
		row0 := p.logp.Row(0)
		for i, c := range cands {
			r[i] = row0[c]
			r[n+i] = mat.LogZero
		}
	} else {
		seed := outLen - 1
		for i := 0; i < n; i++ {
			r[(seed*2)*n+i] = mat.LogZero
			r[(seed*2+1)*n+i] = mat.LogZero
		}
	}

	start := outLen
	if start < 1 {
		start = 1
	}
	psi := make([]float32, n)
	for i := range psi {
		psi[i] = r[((start-1)*2)*n+i]
	}
	for t := start; t < frames; t++ {
		row := p.logp.Row(t)
		bt := row[p.blank]
		for i, c := range cands {
			prevN := r[((t-1)*2)*n+i]
			prevB := r[((t-1)*2+1)*n+i]
			ph := phi[(t-1)*n+i]
			r[(t*2)*n+i] = mat.LogAddExp(prevN, ph) + row[c]
			r[(t*2+1)*n+i] = mat.LogAddExp(prevN, prevB) + bt
			psi[i] = mat.LogAddExp(psi[i], ph+row[c])
		}
	}

	for i, c := range cands {
		switch c {
		case p.eos:
			psi[i] = rsum[frames-1]
		case p.blank:
			psi[i] = mat.LogZero
		}
	}

	scores := make([]float32, n)
	for i := range scores {
		scores[i] = psi[i] - st.score
	}

	// Split the label axis so SelectState can hand out one column.
	cols := make([][]float32, n)
	for i := range cols {
		col := make([]float32, frames*2)
		for t := 0; t < frames; t++ {
			col[t*2] = r[(t*2)*n+i]
			col[t*2+1] = r[(t*2+1)*n+i]
		}
		cols[i] = col
	}
	return scores, &prefixStates{psi: psi, r: cols}, nil
}

// SelectState narrows a scoring result to the k-th candidate.
func (p *Prefix) SelectState(state any, k int) any {
	st, ok := state.(*prefixStates)
	if !ok {
		return state
	}
	return &prefixState{score: st.psi[k], r: st.r[k]}
}

// ExtendProb adopts the visible frame window as the scoring table. The
// window always restates frames from its first row, so adopting it wholesale
// covers both growth and a truncated tail.
func (p *Prefix) ExtendProb(enc *mat.Matrix) {
	p.logp = enc.Clone()
}

// ExtendState pads a forward table out to the current frame count. New
// frames continue the blank plane only; a nil state stays nil and re-derives
// against the grown table on next use.
func (p *Prefix) ExtendState(state any) any {
	st, ok := state.(*prefixState)
	if !ok || st == nil {
		return nil
	}
	if len(st.r) >= 2*p.logp.R {
		return st
	}
	return &prefixState{score: st.score, r: p.extendTable(st.r)}
}

func (p *Prefix) extendTable(r []float32) []float32 {
	frames := p.logp.R
	out := make([]float32, 2*frames)
	copy(out, r)
	old := len(r) / 2
	for t := old; t < frames; t++ {
		out[t*2] = mat.LogZero
		if t == 0 {
			out[1] = p.logp.Row(0)[p.blank]
		} else {
			out[t*2+1] = out[(t-1)*2+1] + p.logp.Row(t)[p.blank]
		}
	}
	return out
}
