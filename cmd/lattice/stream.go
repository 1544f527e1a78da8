package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/internal/vocab"
)

type streamEvent struct {
	Event  string      `json:"event"`
	Frames int         `json:"frames"`
	NBest  []hypOutput `json:"nbest,omitempty"`
}

func streamCmd() *cli.Command {
	var (
		inputPath   string
		chunkFrames int64
		blockSize   int64
		hopSize     int64
		lookAhead   int64
		noGuard     bool
		featLimit   int64
		jsonOut     bool
	)

	flags := append(commonModelFlags(),
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "path to encoder frame .npy replayed chunk by chunk",
			Destination: &inputPath,
		},
		&cli.Int64Flag{
			Name:        "chunk",
			Usage:       "frames forwarded per step",
			Value:       8,
			Destination: &chunkFrames,
		},
		&cli.Int64Flag{
			Name:        "block-size",
			Aliases:     []string{"block_size"},
			Usage:       "frames in the first visible block (0 = default 40)",
			Destination: &blockSize,
		},
		&cli.Int64Flag{
			Name:        "hop-size",
			Aliases:     []string{"hop_size"},
			Usage:       "frames each boundary advances (0 = default 16)",
			Destination: &hopSize,
		},
		&cli.Int64Flag{
			Name:        "look-ahead",
			Aliases:     []string{"look_ahead"},
			Usage:       "frames held back behind each boundary (0 = default 16, negative = none)",
			Destination: &lookAhead,
		},
		&cli.BoolFlag{
			Name:        "no-repetition-guard",
			Usage:       "disable the mid-stream repeated token guard",
			Destination: &noGuard,
		},
		&cli.Int64Flag{
			Name:        "feat-limit",
			Usage:       "cap on frames handed to scorer extension (0 = unbounded)",
			Destination: &featLimit,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit events as JSON lines",
			Destination: &jsonOut,
		},
	)
	flags = append(flags, commonSearchFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "stream",
		Usage: "Replay an utterance through the blockwise streaming decoder",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(c, cfg)
			applySearchConfig(c, cfg)
			applyStreamConfig(c, cfg, &blockSize, &hopSize, &lookAhead)
			ctx = setupLogging(ctx)
			log := logger.FromContext(ctx)

			if decoderPath == "" {
				return cli.Exit("error: --decoder is required", 1)
			}
			if inputPath == "" {
				return cli.Exit("error: --input is required", 1)
			}
			if chunkFrames <= 0 {
				return cli.Exit(fmt.Sprintf("error: chunk size %d must be positive", chunkFrames), 1)
			}

			decMat, err := loadMatrix(decoderPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load decoder matrix: %v", err), 1)
			}
			input, err := loadMatrix(inputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load input matrix: %v", err), 1)
			}
			if input.R == 0 {
				return cli.Exit("error: input has no frames", 1)
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
			if ctcWeight > 0 && input.C != decMat.C {
				return cli.Exit(fmt.Sprintf("error: input width %d does not match vocabulary %d needed for ctc scoring", input.C, decMat.C), 1)
			}

			opts, err := searchOptions(decMat, nil, lmMat, table, true, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			eng, err := decoder.NewBatch(opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: configure search: %v", err), 1)
			}
			sess, err := decoder.NewSession(eng, decoder.SessionOptions{
				BlockSize:              int(blockSize),
				HopSize:                int(hopSize),
				LookAhead:              int(lookAhead),
				DisableRepetitionGuard: noGuard,
				EncodedFeatLengthLimit: int(featLimit),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: configure session: %v", err), 1)
			}

			log.Info("streaming", "frames", input.R, "chunk", chunkFrames,
				"block", blockSize, "hop", hopSize, "look_ahead", lookAhead)

			var results []decoder.Hypothesis
			for off := 0; off < input.R; off += int(chunkFrames) {
				end := off + int(chunkFrames)
				if end > input.R {
					end = input.R
				}
				final := end == input.R
				results, err = sess.Forward(ctx, input.Rows(off, end), final)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: forward frames %d..%d: %v", off, end, err), 1)
				}
				if sess.Done() {
					break
				}
				partial := decodedOutputs(sess.Partial(), table, opts.EOS, 1)
				if err := emitStreamEvent("partial", sess.Frames(), partial, jsonOut); err != nil {
					return err
				}
			}
			outs := decodedOutputs(results, table, opts.EOS, int(nbest))
			return emitStreamEvent("final", sess.Frames(), outs, jsonOut)
		},
	}
}

func emitStreamEvent(event string, frames int, outs []hypOutput, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(streamEvent{Event: event, Frames: frames, NBest: outs})
	}
	if event == "partial" {
		text := ""
		if len(outs) > 0 {
			text = outs[0].Text
			if text == "" {
				text = fmt.Sprintf("%v", outs[0].Tokens)
			}
		}
		fmt.Printf("[%5d] %s\n", frames, text)
		return nil
	}
	fmt.Printf("frames: %d\n", frames)
	printHyps(outs)
	return nil
}
