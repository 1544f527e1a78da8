package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/scorer"
	"github.com/samcharles93/lattice/internal/transducer"
	"github.com/samcharles93/lattice/internal/vocab"
)

func transduceCmd() *cli.Command {
	var (
		trellisPath string
		lmFile      string
		tokensFile  string
		searchType  string
		beam        int64
		nb          int64
		lmW         float64
		blank       int64
		nstep       int64
		prefixAlpha int64
		uMax        int64
		scoreNorm   bool
		jsonOut     bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "trellis",
			Usage:       "path to joint network output .npy (frames x positions x vocab)",
			Destination: &trellisPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "lm",
			Usage:       "path to bigram language model .npy (vocab x vocab)",
			Destination: &lmFile,
		},
		&cli.StringFlag{
			Name:        "tokens",
			Aliases:     []string{"t"},
			Usage:       "path to token table (text or JSON)",
			Destination: &tokensFile,
		},
		&cli.StringFlag{
			Name:        "search-type",
			Aliases:     []string{"search_type"},
			Usage:       "beam variant (default, tsd, alsd, nsc)",
			Value:       transducer.SearchDefault,
			Destination: &searchType,
		},
		&cli.Int64Flag{
			Name:        "beam-size",
			Aliases:     []string{"beam_size", "b"},
			Usage:       "beam width (1 = greedy)",
			Value:       5,
			Destination: &beam,
		},
		&cli.Int64Flag{
			Name:        "nbest",
			Aliases:     []string{"n"},
			Usage:       "number of hypotheses to report",
			Value:       1,
			Destination: &nb,
		},
		&cli.Float64Flag{
			Name:        "lm-weight",
			Aliases:     []string{"lm_weight"},
			Usage:       "language model fusion weight",
			Destination: &lmW,
		},
		&cli.Int64Flag{
			Name:        "blank",
			Usage:       "blank id",
			Destination: &blank,
		},
		&cli.Int64Flag{
			Name:        "nstep",
			Usage:       "max symbol expansions per frame (tsd, nsc)",
			Value:       1,
			Destination: &nstep,
		},
		&cli.Int64Flag{
			Name:        "prefix-alpha",
			Aliases:     []string{"prefix_alpha"},
			Usage:       "prefix merge length margin (nsc)",
			Value:       1,
			Destination: &prefixAlpha,
		},
		&cli.Int64Flag{
			Name:        "u-max",
			Aliases:     []string{"u_max"},
			Usage:       "emitted length cap (alsd)",
			Value:       50,
			Destination: &uMax,
		},
		&cli.BoolFlag{
			Name:        "score-norm",
			Aliases:     []string{"score_norm"},
			Usage:       "rank results by length-normalised score",
			Destination: &scoreNorm,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit results as JSON",
			Destination: &jsonOut,
		},
	}
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "transduce",
		Usage: "Decode a recorded transducer trellis",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(c, cfg)
			applyTransduceConfig(c, cfg, &searchType, &beam, &nb)
			ctx = setupLogging(ctx)
			log := logger.FromContext(ctx)

			tr, err := transducer.LoadTrellis(trellisPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load trellis: %v", err), 1)
			}

			var lm transducer.LanguageModel
			if lmFile != "" {
				lmMat, err := loadMatrix(lmFile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: load lm matrix: %v", err), 1)
				}
				if lmMat.R != tr.Vocab {
					return cli.Exit(fmt.Sprintf("error: lm table is %dx%d, trellis vocabulary is %d", lmMat.R, lmMat.C, tr.Vocab), 1)
				}
				bigram, err := scorer.NewBigram(lmMat)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: lm table: %v", err), 1)
				}
				lm = bigram
			}

			var table *vocab.Table
			if tokensFile != "" {
				if table, err = vocab.Load(tokensFile); err != nil {
					return cli.Exit(fmt.Sprintf("error: load token table: %v", err), 1)
				}
			}

			search, err := transducer.New(tr, tr, transducer.Options{
				SearchType:  searchType,
				BeamSize:    int(beam),
				VocabSize:   tr.Vocab,
				Blank:       int(blank),
				NBest:       int(nb),
				LM:          lm,
				LMWeight:    float32(lmW),
				NStep:       int(nstep),
				PrefixAlpha: int(prefixAlpha),
				UMax:        int(uMax),
				ScoreNorm:   scoreNorm,
				Logger:      log,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: configure search: %v", err), 1)
			}

			log.Info("transducing", "frames", tr.Frames, "variant", searchType, "beam", beam)
			results, err := search.Decode(ctx, tr.EncoderInput())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
			}
			return emitResults(tr.Frames, transducedOutputs(results, table, int(nb)), jsonOut)
		},
	}
}
