package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/logger"
)

var (
	decoderPath string
	lmPath      string
	tokensPath  string

	beamSize  int64
	nbest     int64
	ctcWeight float64
	lmWeight  float64
	penalty   float64

	maxLenRatio  float64
	minLenRatio  float64
	lengthNorm   bool
	sosID        int64
	eosID        int64
	preBeamKey   string
	preBeamRatio float64
	lookback     int64
	threshold    float64

	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "decoder",
			Aliases:     []string{"d"},
			Usage:       "path to decoder log-probability .npy (steps x vocab)",
			Destination: &decoderPath,
		},
		&cli.StringFlag{
			Name:        "lm",
			Usage:       "path to bigram language model .npy (vocab x vocab)",
			Destination: &lmPath,
		},
		&cli.StringFlag{
			Name:        "tokens",
			Aliases:     []string{"t"},
			Usage:       "path to token table (text or JSON)",
			Destination: &tokensPath,
		},
	}
}

func commonSearchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "beam-size",
			Aliases:     []string{"beam_size", "b"},
			Usage:       "beam width",
			Value:       20,
			Destination: &beamSize,
		},
		&cli.Int64Flag{
			Name:        "nbest",
			Aliases:     []string{"n"},
			Usage:       "number of hypotheses to report",
			Value:       1,
			Destination: &nbest,
		},
		&cli.Float64Flag{
			Name:        "ctc-weight",
			Aliases:     []string{"ctc_weight"},
			Usage:       "ctc prefix score weight (decoder weight is 1 - ctc-weight)",
			Destination: &ctcWeight,
		},
		&cli.Float64Flag{
			Name:        "lm-weight",
			Aliases:     []string{"lm_weight"},
			Usage:       "language model fusion weight",
			Destination: &lmWeight,
		},
		&cli.Float64Flag{
			Name:        "penalty",
			Usage:       "length bonus added per emitted token",
			Destination: &penalty,
		},
		&cli.Float64Flag{
			Name:        "maxlenratio",
			Usage:       "max output length ratio (0 = derive from input, negative = absolute cap)",
			Destination: &maxLenRatio,
		},
		&cli.Float64Flag{
			Name:        "minlenratio",
			Usage:       "min output length ratio",
			Destination: &minLenRatio,
		},
		&cli.BoolFlag{
			Name:        "length-norm",
			Aliases:     []string{"length_norm"},
			Usage:       "rank results by length-normalised score",
			Destination: &lengthNorm,
		},
		&cli.Int64Flag{
			Name:        "sos",
			Usage:       "start of sequence id (default -1 = last vocab id)",
			Value:       -1,
			Destination: &sosID,
		},
		&cli.Int64Flag{
			Name:        "eos",
			Usage:       "end of sequence id (default -1 = last vocab id)",
			Value:       -1,
			Destination: &eosID,
		},
		&cli.StringFlag{
			Name:        "pre-beam-key",
			Aliases:     []string{"pre_beam_key"},
			Usage:       "pre-beam ranking signal: full, none or a scorer name (default full when ctc-weight < 1)",
			Destination: &preBeamKey,
		},
		&cli.Float64Flag{
			Name:        "pre-beam-ratio",
			Aliases:     []string{"pre_beam_ratio"},
			Usage:       "pre-beam width as a multiple of beam-size",
			Value:       1.5,
			Destination: &preBeamRatio,
		},
		&cli.Int64Flag{
			Name:        "end-detect-lookback",
			Usage:       "trailing steps the convergence heuristic inspects",
			Value:       3,
			Destination: &lookback,
		},
		&cli.Float64Flag{
			Name:        "end-detect-threshold",
			Usage:       "score drop treated as stagnation by the convergence heuristic",
			Value:       -10,
			Destination: &threshold,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging builds the process logger from the logging flags and installs
// it on the context for downstream packages to pick up.
func setupLogging(ctx context.Context) context.Context {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	var log logger.Logger
	if logFormat == "json" {
		log = logger.JSON(os.Stderr, level)
	} else {
		log = logger.Pretty(os.Stderr, level)
	}
	return logger.WithContext(ctx, log)
}
