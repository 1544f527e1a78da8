package main

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/api"
	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/internal/scorer"
	"github.com/samcharles93/lattice/internal/vocab"
	"github.com/samcharles93/lattice/pkg/npy"
)

// ctcBlank is the conventional blank id in ctc log-probability dumps.
const ctcBlank = 0

// loadMatrix reads a .npy file into a matrix. 1-D arrays read as a single
// row.
func loadMatrix(path string) (*mat.Matrix, error) {
	arr, err := npy.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = arr.Close() }()
	r, c, err := arr.Dims2()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mat.FromData(r, c, arr.Float32()), nil
}

// searchOptions assembles engine options from the shared search flags. The
// decoder matrix always plays back as the primary scorer; ctc, lm and length
// bonus join when configured. In streaming mode the ctc table starts empty
// and fills from arriving frames.
func searchOptions(decMat, ctcMat, lmMat *mat.Matrix, table *vocab.Table, streaming bool, log logger.Logger) (decoder.Options, error) {
	if ctcWeight < 0 || ctcWeight > 1 {
		return decoder.Options{}, fmt.Errorf("ctc weight %g out of range [0, 1]", ctcWeight)
	}
	if lmWeight < 0 {
		return decoder.Options{}, fmt.Errorf("lm weight %g is negative", lmWeight)
	}

	vocabSize := decMat.C
	sos, eos := vocabSize-1, vocabSize-1
	if sosID >= 0 {
		sos = int(sosID)
	}
	if eosID >= 0 {
		eos = int(eosID)
	}

	playback, err := scorer.NewPlayback(decMat)
	if err != nil {
		return decoder.Options{}, err
	}
	scorers := map[string]decoder.Scorer{api.ScorerDecoder: playback}
	weights := map[string]float32{api.ScorerDecoder: 1 - float32(ctcWeight)}

	switch {
	case ctcMat != nil:
		if ctcMat.C != vocabSize {
			return decoder.Options{}, fmt.Errorf("ctc matrix has %d columns, decoder has %d", ctcMat.C, vocabSize)
		}
		scorers[api.ScorerCTC] = scorer.NewPrefix(ctcMat, ctcBlank, eos)
		weights[api.ScorerCTC] = float32(ctcWeight)
	case streaming && ctcWeight > 0:
		scorers[api.ScorerCTC] = scorer.NewPrefix(nil, ctcBlank, eos)
		weights[api.ScorerCTC] = float32(ctcWeight)
	case ctcWeight > 0:
		return decoder.Options{}, fmt.Errorf("ctc weight %g needs a ctc matrix", ctcWeight)
	}

	if lmMat != nil {
		if lmMat.R != vocabSize {
			return decoder.Options{}, fmt.Errorf("lm table is %dx%d, vocabulary is %d", lmMat.R, lmMat.C, vocabSize)
		}
		bigram, err := scorer.NewBigram(lmMat)
		if err != nil {
			return decoder.Options{}, err
		}
		scorers[api.ScorerLM] = bigram
		weights[api.ScorerLM] = float32(lmWeight)
	} else if lmWeight > 0 {
		return decoder.Options{}, fmt.Errorf("lm weight %g needs an lm table", lmWeight)
	}

	if penalty != 0 {
		scorers[api.ScorerLengthBonus] = scorer.NewLengthBonus(vocabSize)
		weights[api.ScorerLengthBonus] = float32(penalty)
	}

	var tokenList []string
	if table != nil {
		tokenList = make([]string, table.Size())
		for i := range tokenList {
			tokenList[i] = table.Token(i)
		}
	}

	beam := int(beamSize)
	if beam <= 0 {
		beam = 1
	}

	return decoder.Options{
		BeamSize:           beam,
		VocabSize:          vocabSize,
		SOS:                sos,
		EOS:                eos,
		Scorers:            scorers,
		Weights:            weights,
		PreBeamScoreKey:    resolvePreBeamKey(),
		PreBeamRatio:       float32(preBeamRatio),
		MaxLenRatio:        float32(maxLenRatio),
		MinLenRatio:        float32(minLenRatio),
		LengthNorm:         lengthNorm,
		EndDetectLookback:  int(lookback),
		EndDetectThreshold: float32(threshold),
		TokenList:          tokenList,
		Logger:             log,
	}, nil
}

// resolvePreBeamKey maps the pre-beam flag onto an engine key: "none"
// disables pre-beaming, an explicit value wins, and the default enables the
// combined full sum whenever the decoder still contributes.
func resolvePreBeamKey() string {
	switch preBeamKey {
	case "none":
		return ""
	case "":
		if ctcWeight < 1 {
			return decoder.PreBeamKeyFull
		}
		return ""
	default:
		return preBeamKey
	}
}
