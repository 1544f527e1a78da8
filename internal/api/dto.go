package api

import (
	"io"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/lattice/internal/mat"
)

// MatrixPayload carries a row-major float32 matrix over the wire.
type MatrixPayload struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

// matrix validates the payload and wraps it without copying. name labels the
// payload in error messages.
func (p *MatrixPayload) matrix(name string) (*mat.Matrix, error) {
	if p == nil {
		return nil, badRequestf("%s matrix is required", name)
	}
	if p.Rows < 0 || p.Cols <= 0 {
		return nil, badRequestf("%s matrix: invalid shape %dx%d", name, p.Rows, p.Cols)
	}
	if len(p.Data) != p.Rows*p.Cols {
		return nil, badRequestf("%s matrix: %d values do not fill %dx%d", name, len(p.Data), p.Rows, p.Cols)
	}
	return mat.FromData(p.Rows, p.Cols, p.Data), nil
}

// TrellisPayload carries recorded joint network outputs: one logit row per
// (frame, emitted-length) pair.
type TrellisPayload struct {
	Frames    int       `json:"frames"`
	Positions int       `json:"positions"`
	Vocab     int       `json:"vocab"`
	Data      []float32 `json:"data"`
}

// DecodeConfig is the knob surface of the attention/CTC decode endpoints.
// The decoder matrix fixes the vocabulary size; sos and eos default to the
// last vocabulary id.
type DecodeConfig struct {
	BeamSize     int      `json:"beam_size,omitempty"`
	NBest        int      `json:"nbest,omitempty"`
	SOS          *int     `json:"sos,omitempty"`
	EOS          *int     `json:"eos,omitempty"`
	CTCWeight    float32  `json:"ctc_weight,omitempty"`
	LMWeight     float32  `json:"lm_weight,omitempty"`
	Penalty      float32  `json:"penalty,omitempty"`
	MaxLenRatio  float32  `json:"maxlenratio,omitempty"`
	MinLenRatio  float32  `json:"minlenratio,omitempty"`
	LengthNorm   bool     `json:"length_norm,omitempty"`
	PreBeam      string   `json:"pre_beam_key,omitempty"`
	PreBeamRatio float32  `json:"pre_beam_ratio,omitempty"`
	Batch        bool     `json:"batch,omitempty"`
	Tokens       []string `json:"tokens,omitempty"`
}

// DecodeRequest decodes one utterance from dumped model outputs. Decoder is
// required; ctc, encoder and lm are optional collaborators.
type DecodeRequest struct {
	Decoder *MatrixPayload `json:"decoder"`
	CTC     *MatrixPayload `json:"ctc,omitempty"`
	Encoder *MatrixPayload `json:"encoder,omitempty"`
	LM      *MatrixPayload `json:"lm,omitempty"`
	Config  DecodeConfig   `json:"config"`
}

// TransduceConfig selects and tunes a transducer search variant.
type TransduceConfig struct {
	SearchType  string   `json:"search_type,omitempty"`
	BeamSize    int      `json:"beam_size,omitempty"`
	NBest       int      `json:"nbest,omitempty"`
	LMWeight    float32  `json:"lm_weight,omitempty"`
	NStep       int      `json:"nstep,omitempty"`
	PrefixAlpha int      `json:"prefix_alpha,omitempty"`
	UMax        int      `json:"u_max,omitempty"`
	ScoreNorm   bool     `json:"score_norm,omitempty"`
	Tokens      []string `json:"tokens,omitempty"`
}

// TransduceRequest decodes one utterance from a recorded joint trellis.
type TransduceRequest struct {
	Trellis *TrellisPayload `json:"trellis"`
	LM      *MatrixPayload  `json:"lm,omitempty"`
	Config  TransduceConfig `json:"config"`
}

// HypothesisDTO is one ranked decoding result. Tokens are reported as the
// engine produced them, start marker included; Text is rendered without the
// markers when the request carried a token list.
type HypothesisDTO struct {
	Tokens []int              `json:"tokens"`
	Score  float32            `json:"score"`
	Scores map[string]float32 `json:"scores,omitempty"`
	Text   string             `json:"text,omitempty"`
}

// DecodeResponse answers the one-shot decode endpoints.
type DecodeResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Frames  int             `json:"frames"`
	NBest   []HypothesisDTO `json:"nbest"`
}

// SessionInfo is the public view of one live streaming session.
type SessionInfo struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Frames    int    `json:"frames"`
	Done      bool   `json:"done"`
}

// SessionList answers the session listing endpoint.
type SessionList struct {
	Object string        `json:"object"`
	Data   []SessionInfo `json:"data"`
}

type DeleteSessionResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// ResponseError is the error body of every non-200 answer and of stream
// error messages.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// StreamConfig opens a streaming session: the offline decode knobs plus the
// blockwise controller geometry. Batch is ignored; streaming always runs the
// batched engine.
type StreamConfig struct {
	DecodeConfig
	BlockSize              int  `json:"block_size,omitempty"`
	HopSize                int  `json:"hop_size,omitempty"`
	LookAhead              int  `json:"look_ahead,omitempty"`
	DisableRepetitionGuard bool `json:"disable_repetition_guard,omitempty"`
	EncodedFeatLengthLimit int  `json:"encoded_feat_length_limit,omitempty"`
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
