package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/transducer"
	"github.com/samcharles93/lattice/internal/vocab"
)

// hypOutput is one reported hypothesis.
type hypOutput struct {
	Rank   int                `json:"rank"`
	Tokens []int              `json:"tokens"`
	Score  float32            `json:"score"`
	Scores map[string]float32 `json:"scores,omitempty"`
	Text   string             `json:"text,omitempty"`
}

type decodeOutput struct {
	Frames int         `json:"frames"`
	NBest  []hypOutput `json:"nbest"`
}

// cleanYseq strips the leading start id and any trailing end ids from a
// decoded sequence.
func cleanYseq(yseq []int, eos int) []int {
	if len(yseq) == 0 {
		return nil
	}
	seq := yseq[1:]
	for len(seq) > 0 && seq[len(seq)-1] == eos {
		seq = seq[:len(seq)-1]
	}
	return seq
}

func decodedOutputs(hyps []decoder.Hypothesis, table *vocab.Table, eos, n int) []hypOutput {
	if n <= 0 {
		n = 1
	}
	if n > len(hyps) {
		n = len(hyps)
	}
	out := make([]hypOutput, 0, n)
	for i, h := range hyps[:n] {
		o := hypOutput{Rank: i + 1, Tokens: h.Yseq, Score: h.Score, Scores: h.Scores}
		if table != nil {
			o.Text = table.Render(cleanYseq(h.Yseq, eos))
		}
		out = append(out, o)
	}
	return out
}

func transducedOutputs(hyps []transducer.Hypothesis, table *vocab.Table, n int) []hypOutput {
	if n <= 0 {
		n = 1
	}
	if n > len(hyps) {
		n = len(hyps)
	}
	out := make([]hypOutput, 0, n)
	for i, h := range hyps[:n] {
		o := hypOutput{Rank: i + 1, Tokens: h.Yseq, Score: h.Score}
		if table != nil && len(h.Yseq) > 0 {
			o.Text = table.Render(h.Yseq[1:])
		}
		out = append(out, o)
	}
	return out
}

// emitResults writes a final result set to stdout.
func emitResults(frames int, outs []hypOutput, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(decodeOutput{Frames: frames, NBest: outs})
	}
	fmt.Printf("frames: %d\n", frames)
	printHyps(outs)
	return nil
}

func printHyps(outs []hypOutput) {
	for _, o := range outs {
		fmt.Printf("%d. score=%.4f tokens=%v\n", o.Rank, o.Score, o.Tokens)
		if len(o.Scores) > 1 {
			keys := make([]string, 0, len(o.Scores))
			for k := range o.Scores {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%.4f", k, o.Scores[k])
			}
			fmt.Printf("   %s\n", strings.Join(parts, " "))
		}
		if o.Text != "" {
			fmt.Printf("   text: %s\n", o.Text)
		}
	}
}
