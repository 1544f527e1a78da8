// Package decoder implements beam search over an ensemble of weighted
// scorers: a sequential engine, a batched engine that fuses per-step scorer
// calls across the beam, and a blockwise streaming session built on the
// batched engine.
//
// The search itself is model-free. Anything that can produce next-token
// log-probabilities for a token prefix participates through the Scorer
// contracts, and per-candidate scorers such as CTC prefix scoring join
// through the partial contract.
package decoder

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/mat"
)

const (
	defaultPreBeamRatio       = 1.5
	defaultEndDetectLookback  = 3
	defaultEndDetectThreshold = -10.0
)

// PreBeamKeyFull selects the combined full-scorer sum as the pre-beam
// ranking signal instead of a single named scorer.
const PreBeamKeyFull = "full"

// Options configures a beam search engine.
type Options struct {
	// BeamSize is the number of hypotheses carried between steps.
	BeamSize int
	// VocabSize is the size of the output vocabulary, including the
	// special ids.
	VocabSize int
	// SOS and EOS are the start and end of sequence token ids.
	SOS, EOS int

	// Scorers maps scorer names to implementations. Weights supplies the
	// non-negative mixing weight per name; a missing or zero weight
	// disables the scorer without removing it.
	Scorers map[string]Scorer
	Weights map[string]float32

	// PreBeamScoreKey enables candidate pre-selection for partial scorers:
	// PreBeamKeyFull ranks by the combined full-scorer sum, any other
	// non-empty value names a full scorer. Empty disables pre-beaming.
	PreBeamScoreKey string
	// PreBeamRatio scales BeamSize into the pre-beam width (default 1.5).
	PreBeamRatio float32

	// MaxLenRatio bounds the output length: 0 derives the budget from the
	// input frame count, a positive value scales it, a negative value is an
	// absolute cap on steps.
	MaxLenRatio float32
	// MinLenRatio scales the input frame count into a minimum output
	// length a hypothesis must reach before it may end.
	MinLenRatio float32

	// LengthNorm ranks final results by score divided by sequence length.
	LengthNorm bool

	// EndDetectLookback and EndDetectThreshold tune the convergence
	// heuristic that stops the search when recently ended hypotheses
	// stagnate (defaults 3 and -10).
	EndDetectLookback  int
	EndDetectThreshold float32

	// TokenList optionally maps ids to display strings for debug logging.
	TokenList []string

	Logger logger.Logger
}

// BeamSearch is the sequential engine: one scorer call per hypothesis per
// step. It is also the shared core the batched engine embeds.
type BeamSearch struct {
	beamSize    int
	vocabSize   int
	sos, eos    int
	full        []scorerEntry
	partial     []scorerEntry
	preBeamSize int
	preBeamKey  string
	maxLenRatio float32
	minLenRatio float32
	lengthNorm  bool
	lookback    int
	threshold   float32
	tokenList   []string
	log         logger.Logger

	topk    mat.TopK
	preTopk mat.TopK
}

// New validates opts and builds a sequential beam search engine.
func New(opts Options) (*BeamSearch, error) {
	if opts.BeamSize <= 0 {
		return nil, fmt.Errorf("%w: beam size %d", ErrInvalidConfig, opts.BeamSize)
	}
	if opts.VocabSize <= 0 {
		return nil, fmt.Errorf("%w: vocabulary size %d", ErrInvalidConfig, opts.VocabSize)
	}
	if opts.SOS < 0 || opts.SOS >= opts.VocabSize {
		return nil, fmt.Errorf("%w: sos id %d outside vocabulary", ErrInvalidConfig, opts.SOS)
	}
	if opts.EOS < 0 || opts.EOS >= opts.VocabSize {
		return nil, fmt.Errorf("%w: eos id %d outside vocabulary", ErrInvalidConfig, opts.EOS)
	}
	for name, w := range opts.Weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: scorer %q has negative weight %v", ErrInvalidConfig, name, w)
		}
	}

	full, partial, err := resolveScorers(opts.Scorers, opts.Weights)
	if err != nil {
		return nil, err
	}

	if opts.PreBeamScoreKey != "" && opts.PreBeamScoreKey != PreBeamKeyFull {
		found := false
		for _, e := range full {
			if e.name == opts.PreBeamScoreKey {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: pre-beam key %q names no active full scorer", ErrInvalidConfig, opts.PreBeamScoreKey)
		}
	}

	preBeamRatio := opts.PreBeamRatio
	if preBeamRatio <= 0 {
		preBeamRatio = defaultPreBeamRatio
	}
	// A pre-beam narrower than the beam would let top-k pick masked tokens.
	preBeamSize := int(preBeamRatio * float32(opts.BeamSize))
	if preBeamSize < opts.BeamSize {
		preBeamSize = opts.BeamSize
	}
	lookback := opts.EndDetectLookback
	if lookback <= 0 {
		lookback = defaultEndDetectLookback
	}
	threshold := opts.EndDetectThreshold
	if threshold == 0 {
		threshold = defaultEndDetectThreshold
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &BeamSearch{
		beamSize:    opts.BeamSize,
		vocabSize:   opts.VocabSize,
		sos:         opts.SOS,
		eos:         opts.EOS,
		full:        full,
		partial:     partial,
		preBeamSize: preBeamSize,
		preBeamKey:  opts.PreBeamScoreKey,
		maxLenRatio: opts.MaxLenRatio,
		minLenRatio: opts.MinLenRatio,
		lengthNorm:  opts.LengthNorm,
		lookback:    lookback,
		threshold:   threshold,
		tokenList:   opts.TokenList,
		log:         log,
	}, nil
}

// doPreBeam reports whether candidate pre-selection applies: it needs a
// ranking key, partial scorers to restrict, and a pre-beam narrower than the
// vocabulary.
func (s *BeamSearch) doPreBeam() bool {
	return s.preBeamKey != "" && len(s.partial) > 0 && s.preBeamSize < s.vocabSize
}

// lengthBounds derives the step budget and minimum output length from the
// input frame count. The budget never drops below one step, so even empty
// input produces a (possibly content-free) result.
func (s *BeamSearch) lengthBounds(frames int, minRatio float32) (maxlen, minlen int) {
	switch {
	case s.maxLenRatio == 0:
		maxlen = frames
	case s.maxLenRatio < 0:
		maxlen = int(-s.maxLenRatio)
	default:
		maxlen = int(s.maxLenRatio * float32(frames))
	}
	if maxlen < 1 {
		maxlen = 1
	}
	minlen = int(minRatio * float32(frames))
	return maxlen, minlen
}

// initHyps builds the seed beam: one hypothesis holding only the start token
// and every scorer's zero state.
func (s *BeamSearch) initHyps(enc *mat.Matrix) []Hypothesis {
	states := make(map[string]any, len(s.full)+len(s.partial))
	scores := make(map[string]float32, len(s.full)+len(s.partial))
	for _, e := range s.full {
		states[e.name] = e.full.InitState(enc)
		scores[e.name] = 0
	}
	for _, e := range s.partial {
		states[e.name] = e.partial.InitState(enc)
		scores[e.name] = 0
	}
	return []Hypothesis{{
		Yseq:   []int{s.sos},
		Score:  0,
		Scores: scores,
		States: states,
	}}
}

// postProcess settles one generation: at the last step it forces an
// end-of-sequence token onto every survivor so the search always yields at
// least one result, then it moves ended hypotheses (those whose newest token
// is EOS, once past the minimum length) into ended, applying any final scorer
// contributions. The remaining hypotheses form the next beam.
func (s *BeamSearch) postProcess(i, maxlen, minlen int, hyps []Hypothesis, ended *[]Hypothesis) []Hypothesis {
	if i == maxlen-1 {
		s.log.Debug("forcing eos at the step budget", "step", i)
		forced := make([]Hypothesis, len(hyps))
		for j, h := range hyps {
			forced[j] = Hypothesis{
				Yseq:   appendToken(h.Yseq, s.eos),
				Score:  h.Score,
				Scores: h.Scores,
				States: h.States,
			}
		}
		hyps = forced
	}

	remained := hyps[:0:0]
	for _, h := range hyps {
		if h.lastToken() != s.eos || i < minlen {
			remained = append(remained, h)
			continue
		}
		for _, e := range s.full {
			h = s.applyFinalScore(e, h)
		}
		for _, e := range s.partial {
			h = s.applyFinalScore(e, h)
		}
		*ended = append(*ended, h)
	}
	return remained
}

func (s *BeamSearch) applyFinalScore(e scorerEntry, h Hypothesis) Hypothesis {
	if e.final == nil {
		return h
	}
	fs := e.final.FinalScore(h.States[e.name])
	if fs == 0 {
		return h
	}
	h.Scores[e.name] += fs
	h.Score += e.weight * fs
	return h
}

// assemble ranks a completed set best-first without mutating it. Ranking is
// by score, optionally normalised by sequence length; ties keep insertion
// order, so re-assembling the same set reproduces the same output.
func (s *BeamSearch) assemble(ended []Hypothesis) []Hypothesis {
	out := append([]Hypothesis(nil), ended...)
	if s.lengthNorm {
		sortByNormScore(out)
	} else {
		stableSortByScore(out)
	}
	return out
}

func (s *BeamSearch) logResult(results []Hypothesis) {
	if len(results) == 0 {
		return
	}
	best := results[0]
	for _, group := range [][]scorerEntry{s.full, s.partial} {
		for _, e := range group {
			v := best.Scores[e.name]
			s.log.Debug("score breakdown", "scorer", e.name, "score", v, "weight", e.weight, "weighted", v*e.weight)
		}
	}
	s.log.Info("decoding finished",
		"score", best.Score,
		"normalized", best.Score/float32(len(best.Yseq)),
		"length", len(best.Yseq),
		"ended", len(results))
	if s.tokenList != nil {
		s.log.Debug("best hypothesis", "text", renderTokens(s.tokenList, best.Yseq))
	}
}

// renderTokens joins token strings for debug logs, skipping out-of-range ids.
func renderTokens(tokenList []string, yseq []int) string {
	out := ""
	for _, id := range yseq {
		if id >= 0 && id < len(tokenList) {
			out += tokenList[id]
		}
	}
	return out
}
