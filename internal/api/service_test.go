package api

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/mat"
	"github.com/samcharles93/lattice/internal/transducer"
	"github.com/samcharles93/lattice/internal/vocab"
)

func TestEngineOptionsComposition(t *testing.T) {
	t.Parallel()

	svc := NewDecodeService(testLogger())
	decMat := mat.New(2, 3)
	ctcMat := mat.New(4, 3)
	lmMat := mat.New(3, 3)
	cfg := DecodeConfig{CTCWeight: 0.3, LMWeight: 0.2, Penalty: 0.5}

	opts, err := svc.engineOptions(cfg, decMat, ctcMat, lmMat, false)
	if err != nil {
		t.Fatalf("engineOptions: %v", err)
	}
	for _, name := range []string{ScorerDecoder, ScorerCTC, ScorerLM, ScorerLengthBonus} {
		if opts.Scorers[name] == nil {
			t.Fatalf("scorer %s missing", name)
		}
	}
	if got, want := opts.Weights[ScorerDecoder], 1-cfg.CTCWeight; got != want {
		t.Fatalf("decoder weight: got %v, want %v", got, want)
	}
	if got := opts.Weights[ScorerCTC]; got != cfg.CTCWeight {
		t.Fatalf("ctc weight: got %v, want %v", got, cfg.CTCWeight)
	}
	if got := opts.Weights[ScorerLM]; got != cfg.LMWeight {
		t.Fatalf("lm weight: got %v, want %v", got, cfg.LMWeight)
	}
	if got := opts.Weights[ScorerLengthBonus]; got != cfg.Penalty {
		t.Fatalf("length bonus weight: got %v, want %v", got, cfg.Penalty)
	}
	if opts.VocabSize != 3 {
		t.Fatalf("vocab size: got %d, want 3", opts.VocabSize)
	}
	if opts.SOS != 2 || opts.EOS != 2 {
		t.Fatalf("special ids: got sos=%d eos=%d, want 2 and 2", opts.SOS, opts.EOS)
	}
	if opts.BeamSize != 1 {
		t.Fatalf("beam size: got %d, want 1", opts.BeamSize)
	}
	if opts.PreBeamScoreKey != decoder.PreBeamKeyFull {
		t.Fatalf("pre-beam key: got %q, want %q", opts.PreBeamScoreKey, decoder.PreBeamKeyFull)
	}
}

func TestEngineOptionsRejects(t *testing.T) {
	t.Parallel()

	svc := NewDecodeService(testLogger())
	decMat := mat.New(2, 3)
	tests := []struct {
		name   string
		cfg    DecodeConfig
		ctcMat *mat.Matrix
		lmMat  *mat.Matrix
	}{
		{name: "ctc weight below zero", cfg: DecodeConfig{CTCWeight: -0.1}},
		{name: "ctc weight above one", cfg: DecodeConfig{CTCWeight: 1.1}},
		{name: "negative lm weight", cfg: DecodeConfig{LMWeight: -0.5}},
		{name: "ctc weight without matrix", cfg: DecodeConfig{CTCWeight: 0.5}},
		{name: "lm weight without table", cfg: DecodeConfig{LMWeight: 0.5}},
		{name: "ctc width mismatch", ctcMat: mat.New(2, 4)},
		{name: "lm size mismatch", lmMat: mat.New(2, 2)},
		{name: "lm table not square", lmMat: mat.New(3, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.engineOptions(tt.cfg, decMat, tt.ctcMat, tt.lmMat, false)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("error: got %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestEngineOptionsStreamingCTC(t *testing.T) {
	t.Parallel()

	svc := NewDecodeService(testLogger())
	opts, err := svc.engineOptions(DecodeConfig{CTCWeight: 0.4}, mat.New(2, 3), nil, nil, true)
	if err != nil {
		t.Fatalf("engineOptions: %v", err)
	}
	if opts.Scorers[ScorerCTC] == nil {
		t.Fatalf("expected a ctc scorer without frames")
	}
	if got := opts.Weights[ScorerCTC]; got != 0.4 {
		t.Fatalf("ctc weight: got %v, want 0.4", got)
	}
}

func TestPreBeamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DecodeConfig
		want string
	}{
		{"default", DecodeConfig{}, decoder.PreBeamKeyFull},
		{"mixed weights", DecodeConfig{CTCWeight: 0.5}, decoder.PreBeamKeyFull},
		{"pure ctc", DecodeConfig{CTCWeight: 1}, ""},
		{"explicit key", DecodeConfig{PreBeam: "ctc"}, "ctc"},
		{"disabled", DecodeConfig{PreBeam: "none", CTCWeight: 0.5}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preBeamKey(tt.cfg); got != tt.want {
				t.Fatalf("preBeamKey: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpecialIDs(t *testing.T) {
	t.Parallel()

	sos, eos := specialIDs(DecodeConfig{}, 5)
	if sos != 4 || eos != 4 {
		t.Fatalf("defaults: got sos=%d eos=%d, want 4 and 4", sos, eos)
	}
	zero, three := 0, 3
	sos, eos = specialIDs(DecodeConfig{SOS: &zero, EOS: &three}, 5)
	if sos != 0 || eos != 3 {
		t.Fatalf("explicit: got sos=%d eos=%d, want 0 and 3", sos, eos)
	}
}

func TestDecodedNBest(t *testing.T) {
	t.Parallel()

	table := vocab.FromTokens([]string{"a", "b", "<eos>"})
	hyps := []decoder.Hypothesis{
		{Yseq: []int{2, 0, 1, 2}, Score: -1, Scores: map[string]float32{ScorerDecoder: -1}},
		{Yseq: []int{2, 1, 2}, Score: -2},
		{Yseq: []int{2, 2}, Score: -3},
	}

	out := decodedNBest(hyps, table, 2, 2)
	if len(out) != 2 {
		t.Fatalf("length: got %d, want 2", len(out))
	}
	if want := []int{2, 0, 1, 2}; !reflect.DeepEqual(out[0].Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", out[0].Tokens, want)
	}
	if out[0].Text != "ab" {
		t.Fatalf("text: got %q, want %q", out[0].Text, "ab")
	}
	if out[0].Scores[ScorerDecoder] != -1 {
		t.Fatalf("scores: got %v, want -1", out[0].Scores[ScorerDecoder])
	}
	if out[1].Text != "b" {
		t.Fatalf("text: got %q, want %q", out[1].Text, "b")
	}

	if got := decodedNBest(hyps, table, 2, 0); len(got) != 1 {
		t.Fatalf("zero n length: got %d, want 1", len(got))
	}
	all := decodedNBest(hyps, table, 2, 5)
	if len(all) != 3 {
		t.Fatalf("length: got %d, want 3", len(all))
	}
	if all[2].Text != "" {
		t.Fatalf("bare sequence text: got %q, want empty", all[2].Text)
	}
	if got := decodedNBest(hyps, nil, 2, 1); got[0].Text != "" {
		t.Fatalf("text without a table: got %q, want empty", got[0].Text)
	}
}

func TestTransducedNBest(t *testing.T) {
	t.Parallel()

	table := vocab.FromTokens([]string{"<blank>", "a", "b"})
	hyps := []transducer.Hypothesis{
		{Yseq: []int{0, 1, 2}, Score: -1},
		{Yseq: []int{0}, Score: -2},
	}
	out := transducedNBest(hyps, table, 5)
	if len(out) != 2 {
		t.Fatalf("length: got %d, want 2", len(out))
	}
	if out[0].Text != "ab" {
		t.Fatalf("text: got %q, want %q", out[0].Text, "ab")
	}
	if out[1].Text != "" {
		t.Fatalf("blank-only text: got %q, want empty", out[1].Text)
	}
}

func TestServiceDecodeNBest(t *testing.T) {
	t.Parallel()

	req := rampRequest()
	req.Config.BeamSize = 2
	req.Config.NBest = 2

	nbest, frames, err := NewDecodeService(testLogger()).Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frames != 3 {
		t.Fatalf("frames: got %d, want 3", frames)
	}
	if len(nbest) != 2 {
		t.Fatalf("nbest length: got %d, want 2", len(nbest))
	}
	if want := []int{2, 0, 1, 2, 2}; !reflect.DeepEqual(nbest[0].Tokens, want) {
		t.Fatalf("best tokens: got %v, want %v", nbest[0].Tokens, want)
	}
	if want := []int{2, 0, 0, 2, 2}; !reflect.DeepEqual(nbest[1].Tokens, want) {
		t.Fatalf("second tokens: got %v, want %v", nbest[1].Tokens, want)
	}
	if nbest[1].Text != "aa" {
		t.Fatalf("second text: got %q, want %q", nbest[1].Text, "aa")
	}
	if math.Abs(float64(nbest[0].Score)+0.3) > 1e-4 {
		t.Fatalf("best score: got %v, want about -0.3", nbest[0].Score)
	}
	if math.Abs(float64(nbest[1].Score)+2.2) > 1e-4 {
		t.Fatalf("second score: got %v, want about -2.2", nbest[1].Score)
	}
}

func TestServiceTransduceSearchType(t *testing.T) {
	t.Parallel()

	req := TransduceRequest{
		Trellis: &TrellisPayload{Frames: 2, Positions: 2, Vocab: 3, Data: []float32{
			0, 5, 0,
			5, 0, 0,
			5, 0, 0,
			5, 0, 0,
		}},
		Config: TransduceConfig{SearchType: transducer.SearchALSD, BeamSize: 2, Tokens: []string{"<blank>", "a", "b"}},
	}
	nbest, frames, err := NewDecodeService(testLogger()).Transduce(context.Background(), req)
	if err != nil {
		t.Fatalf("transduce: %v", err)
	}
	if frames != 2 {
		t.Fatalf("frames: got %d, want 2", frames)
	}
	if len(nbest) != 1 {
		t.Fatalf("nbest length: got %d, want 1", len(nbest))
	}
	if want := []int{0, 1}; !reflect.DeepEqual(nbest[0].Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", nbest[0].Tokens, want)
	}
	if nbest[0].Text != "a" {
		t.Fatalf("text: got %q, want %q", nbest[0].Text, "a")
	}
}

func TestServiceTransduceLMValidation(t *testing.T) {
	t.Parallel()

	svc := NewDecodeService(testLogger())
	trellis := &TrellisPayload{Frames: 1, Positions: 1, Vocab: 3, Data: []float32{0, 1, 0}}
	tests := []struct {
		name string
		lm   *MatrixPayload
	}{
		{"wrong size", &MatrixPayload{Rows: 2, Cols: 2, Data: make([]float32, 4)}},
		{"not square", &MatrixPayload{Rows: 3, Cols: 2, Data: make([]float32, 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := TransduceRequest{Trellis: trellis, LM: tt.lm}
			if _, _, err := svc.Transduce(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("error: got %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestNewStreamValidation(t *testing.T) {
	t.Parallel()

	svc := NewDecodeService(testLogger())
	decPayload := &MatrixPayload{Rows: 3, Cols: 3, Data: make([]float32, 9)}

	if _, err := svc.newStream(nil, decPayload, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing config: got %v, want ErrInvalidRequest", err)
	}

	st, err := svc.newStream(&StreamConfig{
		DecodeConfig: DecodeConfig{CTCWeight: 0.5},
	}, decPayload, nil)
	if err != nil {
		t.Fatalf("newStream: %v", err)
	}
	if st.cols != 3 {
		t.Fatalf("pinned columns: got %d, want 3", st.cols)
	}

	st, err = svc.newStream(&StreamConfig{}, decPayload, nil)
	if err != nil {
		t.Fatalf("newStream: %v", err)
	}
	if st.cols != 0 {
		t.Fatalf("free columns: got %d, want 0", st.cols)
	}

	_, err = svc.newStream(&StreamConfig{BlockSize: 2, LookAhead: 4}, decPayload, nil)
	if !errors.Is(err, decoder.ErrInvalidConfig) {
		t.Fatalf("bad geometry: got %v, want ErrInvalidConfig", err)
	}
}
