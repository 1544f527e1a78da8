package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/pkg/npy"
)

func inspectCmd() *cli.Command {
	var (
		filePath  string
		showStats bool
		headCount int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .npy dump",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .npy file",
				Destination: &filePath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "stats", Usage: "compute value statistics", Destination: &showStats},
			&cli.IntFlag{Name: "head", Usage: "print the first N values", Destination: &headCount},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			stat, err := os.Stat(filePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %q: %v", filePath, err), 1)
			}
			arr, err := npy.Open(filePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open npy: %v", err), 1)
			}
			defer func() { _ = arr.Close() }()

			fmt.Printf("NPY Inspect: %s\n", filePath)
			fmt.Printf("File: %s (%s)\n", filepath.Base(filePath), formatBytes(uint64(stat.Size())))

			section("Array")
			row("dtype", string(arr.DType))
			row("shape", formatShape(arr.Shape))
			rowInt("elements", arr.Len())
			switch len(arr.Shape) {
			case 2:
				rowInt("frames", arr.Shape[0])
				rowInt("vocab", arr.Shape[1])
			case 3:
				rowInt("frames", arr.Shape[0])
				rowInt("positions", arr.Shape[1])
				rowInt("vocab", arr.Shape[2])
			}

			if showStats {
				printStats(arr.Float32())
			}
			if headCount > 0 {
				printHead(arr.Float32(), headCount)
			}
			return nil
		},
	}
}

func printStats(data []float32) {
	section("Stats")
	if len(data) == 0 {
		fmt.Println("(empty)")
		return
	}
	minV := data[0]
	maxV := data[0]
	var sum float64
	inf := 0
	for _, v := range data {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		if math.IsInf(float64(v), 0) {
			inf++
			continue
		}
		sum += float64(v)
	}
	row("min", fmt.Sprintf("%g", minV))
	row("max", fmt.Sprintf("%g", maxV))
	if fin := len(data) - inf; fin > 0 {
		row("mean", fmt.Sprintf("%g", sum/float64(fin)))
	}
	if inf > 0 {
		rowInt("infinite", inf)
	}
}

func printHead(data []float32, n int) {
	section("Head")
	if n > len(data) {
		n = len(data)
	}
	for i := 0; i < n; i++ {
		fmt.Printf("%6d  %g\n", i, data[i])
	}
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
