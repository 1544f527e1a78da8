package decoder

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/mat"
)

const (
	defaultBlockSize = 40
	defaultHopSize   = 16
	defaultLookAhead = 16
)

// SessionOptions configures a streaming decode session.
type SessionOptions struct {
	// BlockSize is the frame count of the first visible block. Zero selects
	// the default of 40.
	BlockSize int
	// HopSize is how many frames each subsequent boundary advances. Zero
	// selects the default of 16.
	HopSize int
	// LookAhead is the margin subtracted from every boundary so the newest
	// frames are never committed without context behind them. Zero selects
	// the default of 16; pass a negative value for no margin.
	LookAhead int
	// DisableRepetitionGuard turns off the mid-stream check that defers a
	// step when a hypothesis re-emits a token it already holds.
	DisableRepetitionGuard bool
	// EncodedFeatLengthLimit caps how many of the newest frames are handed
	// to scorer state extension. When the cap truncates, extended states are
	// invalidated instead of reused. Zero means unbounded.
	EncodedFeatLengthLimit int
}

// Session decodes an input stream chunk by chunk while producing the same
// final output as an offline decode of the concatenated input. It is not
// safe for concurrent use; callers serialize access per session.
type Session struct {
	eng   *BatchBeamSearch
	opts  SessionOptions
	guard bool

	buf        *mat.FrameBuffer
	running    *batchHyps
	snapshot   *batchHyps
	ended      []Hypothesis
	processIdx int
	started    bool
	boundary   int
	done       bool
	results    []Hypothesis
}

// NewSession wraps a batched engine for streaming use.
func NewSession(engine *BatchBeamSearch, opts SessionOptions) (*Session, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = defaultBlockSize
	}
	if opts.HopSize == 0 {
		opts.HopSize = defaultHopSize
	}
	if opts.LookAhead == 0 {
		opts.LookAhead = defaultLookAhead
	} else if opts.LookAhead < 0 {
		opts.LookAhead = 0
	}
	if opts.BlockSize < 0 || opts.HopSize < 0 {
		return nil, fmt.Errorf("%w: block size %d and hop size %d must be positive", ErrInvalidConfig, opts.BlockSize, opts.HopSize)
	}
	if opts.BlockSize <= opts.LookAhead {
		return nil, fmt.Errorf("%w: block size %d must exceed look-ahead %d", ErrInvalidConfig, opts.BlockSize, opts.LookAhead)
	}
	if opts.EncodedFeatLengthLimit < 0 {
		return nil, fmt.Errorf("%w: encoded feature length limit must not be negative", ErrInvalidConfig)
	}
	return &Session{
		eng:   engine,
		opts:  opts,
		guard: !opts.DisableRepetitionGuard,
		buf:   &mat.FrameBuffer{},
	}, nil
}

// Reset returns the session to its initial state so a new stream can be
// decoded. Scorer caches are rebuilt on the next Forward call.
func (s *Session) Reset() {
	s.buf.Reset()
	s.running = nil
	s.snapshot = nil
	s.ended = nil
	s.processIdx = 0
	s.started = false
	s.boundary = 0
	s.done = false
	s.results = nil
}

// Done reports whether the session has produced its final result.
func (s *Session) Done() bool { return s.done }

// Frames returns how many encoded frames have been buffered so far.
func (s *Session) Frames() int { return s.buf.Len() }

// Forward appends chunk to the input buffer and processes every boundary it
// makes visible. Non-final calls return nil results unless the search
// terminates early; the final call (or an early termination) returns the
// completed hypotheses, best first. Calling Forward after the session is
// done returns ErrSessionDone.
func (s *Session) Forward(ctx context.Context, chunk *mat.Matrix, final bool) ([]Hypothesis, error) {
	if s.done {
		return nil, ErrSessionDone
	}
	if chunk != nil && chunk.R > 0 {
		s.buf.Append(chunk)
	}
	if final {
		return s.drain(ctx)
	}
	t := s.buf.Len()
	for !s.done {
		var b int
		if !s.started {
			b = s.opts.BlockSize - s.opts.LookAhead
			if b >= t {
				break
			}
			s.started = true
		} else {
			if s.boundary+s.opts.HopSize+s.opts.LookAhead >= t {
				break
			}
			b = s.boundary + s.opts.HopSize
		}
		s.boundary = b
		if err := s.processBlock(ctx, b, false); err != nil {
			return nil, err
		}
	}
	if s.done {
		return s.results, nil
	}
	return nil, nil
}

// drain walks the remaining boundary schedule over the now-complete buffer
// and runs the last block to true termination.
func (s *Session) drain(ctx context.Context) ([]Hypothesis, error) {
	t := s.buf.Len()
	for !s.done {
		var b int
		switch {
		case !s.started:
			b = s.opts.BlockSize - s.opts.LookAhead
			if b >= t {
				b = t
			}
			s.started = true
		case s.boundary+s.opts.HopSize+s.opts.LookAhead < t:
			b = s.boundary + s.opts.HopSize
		default:
			b = t
		}
		s.boundary = b
		if err := s.processBlock(ctx, b, b == t); err != nil {
			return nil, err
		}
	}
	return s.results, nil
}

// processBlock runs search steps against the input prefix ending at
// boundary. Non-final blocks pause as soon as a hypothesis reaches
// end-of-sequence or re-emits a held token, rolling back one committed step
// so the paused step is retried with more context.
func (s *Session) processBlock(ctx context.Context, boundary int, blockFinal bool) error {
	window := s.buf.Matrix().Rows(0, boundary)
	if s.running == nil {
		s.running = s.eng.batchfy(s.eng.initHyps(window))
	}
	s.extendScorers(window)

	maxlen, minlen := s.eng.lengthBounds(s.buf.Len(), s.eng.minLenRatio)
	s.eng.log.Debug("processing block", "boundary", boundary, "final", blockFinal, "maxlen", maxlen)

	for s.processIdx < maxlen {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.eng.log.Debug("search step", "position", s.processIdx)
		best, err := s.eng.searchBatch(s.running, window)
		if err != nil {
			return err
		}

		localEnded := 0
		prevRepeat := false
		for _, h := range best {
			last := h.lastToken()
			if last == s.eng.eos {
				localEnded++
				continue
			}
			if prevRepeat || blockFinal || !s.guard {
				continue
			}
			if tokenIn(h.Yseq[:len(h.Yseq)-1], last) {
				prevRepeat = true
			}
		}
		if prevRepeat {
			s.eng.log.Info("repetition detected, deferring the step to the next block", "position", s.processIdx)
			break
		}
		if s.eng.maxLenRatio == 0 && endDetect(s.ended, s.processIdx, s.eng.lookback, s.eng.threshold) {
			s.eng.log.Info("end detected", "position", s.processIdx)
			return s.finish(ctx)
		}
		if localEnded > 0 && !blockFinal {
			s.eng.log.Info("hypotheses reached eos inside the block, pausing", "count", localEnded, "position", s.processIdx)
			break
		}

		s.snapshot = s.running
		remained := s.eng.postProcess(s.processIdx, maxlen, minlen, best, &s.ended)
		if len(remained) == 0 {
			s.eng.log.Info("no remaining hypotheses", "position", s.processIdx)
			return s.finish(ctx)
		}
		s.running = s.eng.batchfy(remained)
		s.processIdx++
	}

	if blockFinal {
		return s.finish(ctx)
	}
	if s.processIdx > 1 && s.snapshot != nil {
		s.running = s.snapshot
		s.processIdx--
		s.snapshot = nil
	}
	return nil
}

// extendScorers grows streaming scorer caches to cover the visible window.
// When the configured length limit truncates the window, per-hypothesis
// states are invalidated instead of extended; scorers rebuild them lazily.
func (s *Session) extendScorers(window *mat.Matrix) {
	ext := window
	trunc := false
	if limit := s.opts.EncodedFeatLengthLimit; limit > 0 && window.R > limit {
		ext = window.Rows(window.R-limit, window.R)
		trunc = true
	}
	for _, group := range [][]scorerEntry{s.eng.full, s.eng.partial} {
		for _, e := range group {
			if e.stream == nil {
				continue
			}
			e.stream.ExtendProb(ext)
			states := s.running.states[e.name]
			for i := range states {
				if trunc {
					states[i] = nil
				} else {
					states[i] = e.stream.ExtendState(states[i])
				}
			}
		}
	}
}

// finish assembles the final result. If nothing completed, the whole
// buffered input is re-decoded with a progressively relaxed minimum length,
// mirroring the offline retry.
func (s *Session) finish(ctx context.Context) error {
	results := s.eng.assemble(s.ended)
	minRatio := s.eng.minLenRatio
	for len(results) == 0 {
		if minRatio < 0.1 {
			break
		}
		minRatio = max(0, minRatio-0.1)
		s.eng.log.Warn("no ended hypotheses, re-decoding the full input with relaxed minimum length", "minlenratio", minRatio)
		var err error
		results, err = s.eng.decodeOnceBatch(ctx, s.buf.Matrix(), minRatio)
		if err != nil {
			return err
		}
	}
	if len(results) > 0 {
		s.eng.logResult(results)
	} else if results == nil {
		results = []Hypothesis{}
	}
	s.results = results
	s.done = true
	return nil
}

// Partial returns the current best-effort view of the decode: completed
// hypotheses merged with the running beam, best first. It does not advance
// the session.
func (s *Session) Partial() []Hypothesis {
	out := make([]Hypothesis, 0, len(s.ended)+s.eng.beamSize)
	out = append(out, s.ended...)
	if s.running != nil {
		out = append(out, s.eng.unbatchfy(s.running)...)
	}
	if s.eng.lengthNorm {
		sortByNormScore(out)
	} else {
		stableSortByScore(out)
	}
	return out
}

func tokenIn(seq []int, tok int) bool {
	for _, t := range seq {
		if t == tok {
			return true
		}
	}
	return false
}
