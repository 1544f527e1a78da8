package api

import (
	"context"

	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/internal/scorer"
	"github.com/samcharles93/lattice/internal/transducer"
	"github.com/samcharles93/lattice/internal/vocab"
)

// Scorer names shared by request weights and per-hypothesis score
// breakdowns.
const (
	ScorerDecoder     = "decoder"
	ScorerCTC         = "ctc"
	ScorerLM          = "lm"
	ScorerLengthBonus = "length_bonus"
)

// ctcBlank is the fixed blank id of dumped CTC activations.
const ctcBlank = 0

// Engine is the Decode surface shared by the sequential and batched beam
// search engines.
type Engine interface {
	Decode(ctx context.Context, enc *mat.Matrix) ([]decoder.Hypothesis, error)
}

// DecodeService turns validated requests into engine runs. It holds no
// per-request state; every call builds its own scorer ensemble from the
// matrices it carries.
type DecodeService struct {
	log logger.Logger
}

func NewDecodeService(log logger.Logger) *DecodeService {
	if log == nil {
		log = logger.Default()
	}
	return &DecodeService{log: log}
}

// Decode runs one full-utterance beam search over dumped model outputs and
// returns the ranked results plus the input frame count.
func (s *DecodeService) Decode(ctx context.Context, req DecodeRequest) ([]HypothesisDTO, int, error) {
	decMat, err := req.Decoder.matrix("decoder")
	if err != nil {
		return nil, 0, err
	}
	var ctcMat, lmMat, encMat *mat.Matrix
	if req.CTC != nil {
		if ctcMat, err = req.CTC.matrix("ctc"); err != nil {
			return nil, 0, err
		}
	}
	if req.LM != nil {
		if lmMat, err = req.LM.matrix("lm"); err != nil {
			return nil, 0, err
		}
	}
	if req.Encoder != nil {
		if encMat, err = req.Encoder.matrix("encoder"); err != nil {
			return nil, 0, err
		}
	}

	opts, err := s.engineOptions(req.Config, decMat, ctcMat, lmMat, false)
	if err != nil {
		return nil, 0, err
	}

	var eng Engine
	if req.Config.Batch {
		eng, err = decoder.NewBatch(opts)
	} else {
		eng, err = decoder.New(opts)
	}
	if err != nil {
		return nil, 0, err
	}

	// The encoder matrix fixes the frame budget. Without one the CTC
	// activations stand in, and failing that the playback rows do.
	enc := encMat
	if enc == nil {
		enc = ctcMat
	}
	if enc == nil {
		enc = mat.New(decMat.R, 1)
	}

	results, err := eng.Decode(ctx, enc)
	if err != nil {
		return nil, 0, err
	}
	_, eos := specialIDs(req.Config, decMat.C)
	table := tokenTable(req.Config.Tokens)
	return decodedNBest(results, table, eos, req.Config.NBest), enc.R, nil
}

// Transduce runs one transducer search over a recorded joint trellis.
func (s *DecodeService) Transduce(ctx context.Context, req TransduceRequest) ([]HypothesisDTO, int, error) {
	if req.Trellis == nil {
		return nil, 0, badRequestf("trellis is required")
	}
	tr, err := transducer.NewTrellis(req.Trellis.Frames, req.Trellis.Positions, req.Trellis.Vocab, req.Trellis.Data)
	if err != nil {
		return nil, 0, err
	}

	var lm transducer.LanguageModel
	if req.LM != nil {
		lmMat, err := req.LM.matrix("lm")
		if err != nil {
			return nil, 0, err
		}
		if lmMat.R != tr.Vocab {
			return nil, 0, badRequestf("lm table is %dx%d for vocabulary %d", lmMat.R, lmMat.C, tr.Vocab)
		}
		bigram, err := scorer.NewBigram(lmMat)
		if err != nil {
			return nil, 0, badRequestf("lm table: %v", err)
		}
		lm = bigram
	}

	beam := req.Config.BeamSize
	if beam == 0 {
		beam = 1
	}
	search, err := transducer.New(tr, tr, transducer.Options{
		SearchType:  req.Config.SearchType,
		BeamSize:    beam,
		VocabSize:   tr.Vocab,
		Blank:       ctcBlank,
		NBest:       req.Config.NBest,
		LM:          lm,
		LMWeight:    req.Config.LMWeight,
		NStep:       req.Config.NStep,
		PrefixAlpha: req.Config.PrefixAlpha,
		UMax:        req.Config.UMax,
		ScoreNorm:   req.Config.ScoreNorm,
		Logger:      s.log,
	})
	if err != nil {
		return nil, 0, err
	}

	results, err := search.Decode(ctx, tr.EncoderInput())
	if err != nil {
		return nil, 0, err
	}
	table := tokenTable(req.Config.Tokens)
	return transducedNBest(results, table, req.Config.NBest), tr.Frames, nil
}

// engineOptions assembles the decoder configuration for one request. The
// decoder playback matrix fixes the vocabulary; its weight is one minus the
// CTC weight, matching how attention and CTC scores are mixed upstream.
// streaming permits a CTC scorer without frames, which then arrive through
// the session's window extension.
func (s *DecodeService) engineOptions(cfg DecodeConfig, decMat, ctcMat, lmMat *mat.Matrix, streaming bool) (decoder.Options, error) {
	if cfg.CTCWeight < 0 || cfg.CTCWeight > 1 {
		return decoder.Options{}, badRequestf("ctc_weight %v outside [0, 1]", cfg.CTCWeight)
	}
	if cfg.LMWeight < 0 {
		return decoder.Options{}, badRequestf("lm_weight %v is negative", cfg.LMWeight)
	}
	vocabSize := decMat.C
	if ctcMat != nil && ctcMat.C != vocabSize {
		return decoder.Options{}, badRequestf("ctc matrix has %d columns, decoder has %d", ctcMat.C, vocabSize)
	}
	if lmMat != nil && lmMat.R != vocabSize {
		return decoder.Options{}, badRequestf("lm table is %dx%d for vocabulary %d", lmMat.R, lmMat.C, vocabSize)
	}
	sos, eos := specialIDs(cfg, vocabSize)

	scorers := make(map[string]decoder.Scorer)
	weights := make(map[string]float32)

	playback, err := scorer.NewPlayback(decMat)
	if err != nil {
		return decoder.Options{}, badRequestf("decoder matrix: %v", err)
	}
	scorers[ScorerDecoder] = playback
	weights[ScorerDecoder] = 1 - cfg.CTCWeight

	if ctcMat != nil || (streaming && cfg.CTCWeight > 0) {
		scorers[ScorerCTC] = scorer.NewPrefix(ctcMat, ctcBlank, eos)
		weights[ScorerCTC] = cfg.CTCWeight
	} else if cfg.CTCWeight > 0 {
		return decoder.Options{}, badRequestf("ctc_weight %v needs a ctc matrix", cfg.CTCWeight)
	}

	if lmMat != nil {
		bigram, err := scorer.NewBigram(lmMat)
		if err != nil {
			return decoder.Options{}, badRequestf("lm table: %v", err)
		}
		scorers[ScorerLM] = bigram
		weights[ScorerLM] = cfg.LMWeight
	} else if cfg.LMWeight > 0 {
		return decoder.Options{}, badRequestf("lm_weight %v needs an lm table", cfg.LMWeight)
	}

	if cfg.Penalty != 0 {
		scorers[ScorerLengthBonus] = scorer.NewLengthBonus(vocabSize)
		weights[ScorerLengthBonus] = cfg.Penalty
	}

	beam := cfg.BeamSize
	if beam == 0 {
		beam = 1
	}
	return decoder.Options{
		BeamSize:        beam,
		VocabSize:       vocabSize,
		SOS:             sos,
		EOS:             eos,
		Scorers:         scorers,
		Weights:         weights,
		PreBeamScoreKey: preBeamKey(cfg),
		PreBeamRatio:    cfg.PreBeamRatio,
		MaxLenRatio:     cfg.MaxLenRatio,
		MinLenRatio:     cfg.MinLenRatio,
		LengthNorm:      cfg.LengthNorm,
		TokenList:       cfg.Tokens,
		Logger:          s.log,
	}, nil
}

// specialIDs resolves the start and end ids, defaulting both to the last
// vocabulary entry.
func specialIDs(cfg DecodeConfig, vocabSize int) (sos, eos int) {
	sos = vocabSize - 1
	if cfg.SOS != nil {
		sos = *cfg.SOS
	}
	eos = vocabSize - 1
	if cfg.EOS != nil {
		eos = *cfg.EOS
	}
	return sos, eos
}

// preBeamKey picks the pre-selection signal. An explicit key wins, "none"
// disables pre-beaming, and the default ranks by the combined full-scorer
// sum whenever the decoder scorer is active.
func preBeamKey(cfg DecodeConfig) string {
	switch {
	case cfg.PreBeam == "none":
		return ""
	case cfg.PreBeam != "":
		return cfg.PreBeam
	case cfg.CTCWeight < 1:
		return decoder.PreBeamKeyFull
	default:
		return ""
	}
}

func tokenTable(tokens []string) *vocab.Table {
	if len(tokens) == 0 {
		return nil
	}
	return vocab.FromTokens(tokens)
}

// decodedNBest renders ranked engine results for the wire, trimmed to n.
// Text strips the leading start marker and any trailing end markers; Tokens
// keeps the sequence exactly as decoded.
func decodedNBest(hyps []decoder.Hypothesis, table *vocab.Table, eos, n int) []HypothesisDTO {
	if n <= 0 {
		n = 1
	}
	if len(hyps) > n {
		hyps = hyps[:n]
	}
	out := make([]HypothesisDTO, 0, len(hyps))
	for _, h := range hyps {
		dto := HypothesisDTO{Tokens: h.Yseq, Score: h.Score, Scores: h.Scores}
		if table != nil && len(h.Yseq) > 0 {
			ids := h.Yseq[1:]
			for len(ids) > 0 && ids[len(ids)-1] == eos {
				ids = ids[:len(ids)-1]
			}
			dto.Text = table.Render(ids)
		}
		out = append(out, dto)
	}
	return out
}

// transducedNBest is decodedNBest for transducer results, whose sequences
// begin with the blank id and carry no end marker.
func transducedNBest(hyps []transducer.Hypothesis, table *vocab.Table, n int) []HypothesisDTO {
	if n <= 0 {
		n = 1
	}
	if len(hyps) > n {
		hyps = hyps[:n]
	}
	out := make([]HypothesisDTO, 0, len(hyps))
	for _, h := range hyps {
		dto := HypothesisDTO{Tokens: h.Yseq, Score: h.Score}
		if table != nil && len(h.Yseq) > 0 {
			dto.Text = table.Render(h.Yseq[1:])
		}
		out = append(out, dto)
	}
	return out
}

// newStream opens a blockwise decoding session from a stream start message.
// The playback matrix arrives whole, since it is indexed by output position
// rather than input frame; CTC frames build up through the session window.
func (s *DecodeService) newStream(cfg *StreamConfig, decPayload, lmPayload *MatrixPayload) (*streamState, error) {
	if cfg == nil {
		return nil, badRequestf("start message missing config")
	}
	decMat, err := decPayload.matrix("decoder")
	if err != nil {
		return nil, err
	}
	var lmMat *mat.Matrix
	if lmPayload != nil {
		if lmMat, err = lmPayload.matrix("lm"); err != nil {
			return nil, err
		}
	}

	opts, err := s.engineOptions(cfg.DecodeConfig, decMat, nil, lmMat, true)
	if err != nil {
		return nil, err
	}
	eng, err := decoder.NewBatch(opts)
	if err != nil {
		return nil, err
	}
	sess, err := decoder.NewSession(eng, decoder.SessionOptions{
		BlockSize:              cfg.BlockSize,
		HopSize:                cfg.HopSize,
		LookAhead:              cfg.LookAhead,
		DisableRepetitionGuard: cfg.DisableRepetitionGuard,
		EncodedFeatLengthLimit: cfg.EncodedFeatLengthLimit,
	})
	if err != nil {
		return nil, err
	}

	_, eos := specialIDs(cfg.DecodeConfig, decMat.C)
	st := &streamState{
		sess:  sess,
		table: tokenTable(cfg.Tokens),
		eos:   eos,
		nbest: cfg.NBest,
	}
	if cfg.CTCWeight > 0 {
		// Streamed frames double as the CTC table, so their width is
		// pinned to the vocabulary up front.
		st.cols = decMat.C
	}
	return st, nil
}

// streamState is the per-connection decoding state of one websocket stream.
type streamState struct {
	sess  *decoder.Session
	table *vocab.Table
	eos   int
	nbest int
	cols  int
}

// forward feeds one chunk through the session. The bool reports whether the
// session finished on this call; until then the returned hypotheses are the
// current partial view.
func (st *streamState) forward(ctx context.Context, payload *MatrixPayload, final bool) ([]HypothesisDTO, bool, error) {
	var chunk *mat.Matrix
	if payload != nil {
		m, err := payload.matrix("frames")
		if err != nil {
			return nil, false, err
		}
		if st.cols == 0 {
			st.cols = m.C
		} else if m.C != st.cols {
			return nil, false, badRequestf("frames matrix has %d columns, session expects %d", m.C, st.cols)
		}
		chunk = m
	}
	results, err := st.sess.Forward(ctx, chunk, final)
	if err != nil {
		return nil, false, err
	}
	if results != nil || st.sess.Done() {
		return decodedNBest(results, st.table, st.eos, st.nbest), true, nil
	}
	return decodedNBest(st.sess.Partial(), st.table, st.eos, st.nbest), false, nil
}
