// Package transducer implements label-synchronous search over transducer
// models: greedy decoding plus the default, time-synchronous,
// alignment-length-synchronous and N-step constrained beam variants. Unlike
// attention beam search, emission and frame advance are decoupled here: the
// blank id consumes an encoder frame without growing the output, and the
// variants differ only in how candidates are generated and merged around
// that choice.
//
// The engine is model-free. A prediction network joins through StepDecoder,
// the joint network through JointNetwork, and an optional external language
// model through LanguageModel; Trellis adapts recorded joint outputs to the
// same contracts for playback decoding.
package transducer

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/logger"
)

// Search variant names accepted by Options.SearchType.
const (
	SearchDefault = "default"
	SearchTSD     = "tsd"
	SearchALSD    = "alsd"
	SearchNSC     = "nsc"
)

const (
	defaultNStep       = 1
	defaultPrefixAlpha = 1
	defaultUMax        = 50
)

// StepDecoder is the prediction network: an autoregressive model over the
// emitted label sequence, independent of the encoder frames.
type StepDecoder interface {
	// ZeroState returns the state before any token has been consumed.
	ZeroState() any

	// Step advances the network by the newest token of yseq, starting from
	// state, and returns the output conditioned on the whole of yseq, an
	// optional attention trace, and the advanced state. The output must be a
	// pure function of yseq so the engine may reuse it across hypotheses
	// sharing a prefix; returned slices are owned by the caller.
	Step(yseq []int, state any) (out []float32, att []float32, newState any, err error)
}

// JointNetwork combines one encoder frame with one prediction network output
// into next-token logits. The engine applies the log-softmax itself.
type JointNetwork interface {
	Joint(encFrame, decOut []float32) []float32
}

// LanguageModel shallow-fuses an external model into label extensions.
type LanguageModel interface {
	// Predict consumes token from state and returns the advanced state plus
	// log-probabilities for the following token. A nil state is initial.
	Predict(state any, token int) (any, []float32)
}

// BatchLanguageModel is an optional fused form of Predict across hypotheses.
// The N-step constrained search uses it when the model provides it.
type BatchLanguageModel interface {
	BuffPredict(states []any, tokens []int) ([]any, [][]float32)
}

// Options configures a transducer search.
type Options struct {
	// SearchType picks the beam variant: SearchDefault, SearchTSD,
	// SearchALSD or SearchNSC (empty selects SearchDefault). A beam size of
	// one always decodes greedily regardless of the variant.
	SearchType string

	// BeamSize is the number of hypotheses carried between frames.
	BeamSize int
	// VocabSize is the joint network output width, including the blank id.
	VocabSize int
	// Blank is the id that advances the input frame without emitting.
	Blank int
	// NBest bounds how many hypotheses Decode returns (default 1).
	NBest int

	// LM optionally fuses an external language model into label extensions,
	// scaled by LMWeight. Nil skips all fusion terms.
	LM       LanguageModel
	LMWeight float32

	// NStep caps symbol expansions per frame for SearchTSD and SearchNSC
	// (default 1).
	NStep int
	// PrefixAlpha bounds the length gap within which SearchNSC merges a
	// hypothesis into a longer one it is a prefix of (default 1).
	PrefixAlpha int
	// UMax caps the emitted length for SearchALSD (default 50).
	UMax int

	// ScoreNorm ranks SearchDefault results by length-normalised score.
	ScoreNorm bool

	Logger logger.Logger
}

// Search runs one configured transducer decoding algorithm. It is safe for
// sequential reuse across utterances; each Decode call owns its state.
type Search struct {
	dec   StepDecoder
	joint JointNetwork
	lm    LanguageModel

	searchType  string
	beamSize    int
	vocabSize   int
	blank       int
	nbest       int
	lmWeight    float32
	nstep       int
	prefixAlpha int
	uMax        int
	scoreNorm   bool
	log         logger.Logger
}

// New validates opts and builds a search over the given prediction and joint
// networks.
func New(dec StepDecoder, joint JointNetwork, opts Options) (*Search, error) {
	if dec == nil {
		return nil, fmt.Errorf("%w: nil prediction network", ErrInvalidConfig)
	}
	if joint == nil {
		return nil, fmt.Errorf("%w: nil joint network", ErrInvalidConfig)
	}
	if opts.BeamSize <= 0 {
		return nil, fmt.Errorf("%w: beam size %d", ErrInvalidConfig, opts.BeamSize)
	}
	if opts.VocabSize < 2 {
		return nil, fmt.Errorf("%w: vocabulary size %d needs the blank id and at least one label", ErrInvalidConfig, opts.VocabSize)
	}
	if opts.Blank < 0 || opts.Blank >= opts.VocabSize {
		return nil, fmt.Errorf("%w: blank id %d outside vocabulary", ErrInvalidConfig, opts.Blank)
	}
	if opts.LMWeight < 0 {
		return nil, fmt.Errorf("%w: negative lm weight %v", ErrInvalidConfig, opts.LMWeight)
	}

	searchType := opts.SearchType
	if searchType == "" {
		searchType = SearchDefault
	}
	switch searchType {
	case SearchDefault, SearchTSD, SearchALSD, SearchNSC:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSearchType, opts.SearchType)
	}

	nbest := opts.NBest
	if nbest <= 0 {
		nbest = 1
	}
	nstep := opts.NStep
	if nstep <= 0 {
		nstep = defaultNStep
	}
	prefixAlpha := opts.PrefixAlpha
	if prefixAlpha <= 0 {
		prefixAlpha = defaultPrefixAlpha
	}
	uMax := opts.UMax
	if uMax <= 0 {
		uMax = defaultUMax
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Search{
		dec:         dec,
		joint:       joint,
		lm:          opts.LM,
		searchType:  searchType,
		beamSize:    opts.BeamSize,
		vocabSize:   opts.VocabSize,
		blank:       opts.Blank,
		nbest:       nbest,
		lmWeight:    opts.LMWeight,
		nstep:       nstep,
		prefixAlpha: prefixAlpha,
		uMax:        uMax,
		scoreNorm:   opts.ScoreNorm,
		log:         log,
	}, nil
}

// variant names the algorithm Decode will run.
func (s *Search) variant() string {
	if s.beamSize == 1 {
		return "greedy"
	}
	return s.searchType
}
