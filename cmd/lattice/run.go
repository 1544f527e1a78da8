package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/api"
	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/internal/vocab"
)

func runCmd() *cli.Command {
	var (
		ctcPath     string
		encoderPath string
		batch       bool
		jsonOut     bool
	)

	flags := append(commonModelFlags(),
		&cli.StringFlag{
			Name:        "ctc",
			Usage:       "path to ctc log-probability .npy (frames x vocab)",
			Destination: &ctcPath,
		},
		&cli.StringFlag{
			Name:        "encoder",
			Usage:       "path to encoder output .npy (frames x dim, defaults to the ctc input)",
			Destination: &encoderPath,
		},
		&cli.BoolFlag{
			Name:        "batch",
			Usage:       "use the batched engine",
			Destination: &batch,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit results as JSON",
			Destination: &jsonOut,
		},
	)
	flags = append(flags, commonSearchFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "run",
		Usage: "Decode dumped decoder/ctc outputs offline",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(c, cfg)
			applySearchConfig(c, cfg)
			ctx = setupLogging(ctx)
			log := logger.FromContext(ctx)

			if decoderPath == "" {
				return cli.Exit("error: --decoder is required", 1)
			}
			decMat, err := loadMatrix(decoderPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load decoder matrix: %v", err), 1)
			}
			var ctcMat *mat.Matrix
			if ctcPath != "" {
				if ctcMat, err = loadMatrix(ctcPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: load ctc matrix: %v", err), 1)
				}
			}
			var lmMat *mat.Matrix
			if lmPath != "" {
				if lmMat, err = loadMatrix(lmPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: load lm matrix: %v", err), 1)
				}
			}
			var table *vocab.Table
			if tokensPath != "" {
				if table, err = vocab.Load(tokensPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: load token table: %v", err), 1)
				}
			}

			opts, err := searchOptions(decMat, ctcMat, lmMat, table, false, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var eng api.Engine
			if batch {
				eng, err = decoder.NewBatch(opts)
			} else {
				eng, err = decoder.New(opts)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: configure search: %v", err), 1)
			}

			var enc *mat.Matrix
			switch {
			case encoderPath != "":
				if enc, err = loadMatrix(encoderPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: load encoder matrix: %v", err), 1)
				}
			case ctcMat != nil:
				enc = ctcMat
			default:
				enc = mat.New(decMat.R, 1)
			}

			log.Info("decoding", "frames", enc.R, "beam", opts.BeamSize, "scorers", len(opts.Scorers))
			results, err := eng.Decode(ctx, enc)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
			}
			return emitResults(enc.R, decodedOutputs(results, table, opts.EOS, int(nbest)), jsonOut)
		},
	}
}
