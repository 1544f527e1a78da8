package api

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/decoder"
)

// streamClientMsg is one client message on the streaming socket. Type is
// "start" (Config plus the playback matrices), "frames" (a chunk of input
// rows, Final marking the last one) or "close" (drain and finish).
type streamClientMsg struct {
	Type    string         `json:"type"`
	Config  *StreamConfig  `json:"config,omitempty"`
	Decoder *MatrixPayload `json:"decoder,omitempty"`
	LM      *MatrixPayload `json:"lm,omitempty"`
	Frames  *MatrixPayload `json:"frames,omitempty"`
	Final   bool           `json:"final,omitempty"`
}

// streamServerMsg is one server message: "session.created" on connect,
// "session.started" after a start, "partial" or "final" with ranked
// hypotheses, or "error".
type streamServerMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Frames    int             `json:"frames,omitempty"`
	NBest     []HypothesisDTO `json:"nbest,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// handleStream upgrades the connection and runs one blockwise decoding
// session over it. The session is registered in the store for the lifetime
// of the socket; deleting it through the API cancels the context, which
// closes the connection under the read loop.
func (s *Server) handleStream(c *echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the request.
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	rec := s.store.Add(s.clock(), cancel)
	log := s.log.With("session", rec.ID)

	defer func() {
		s.store.Remove(rec.ID)
		cancel()
		conn.Close()
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := sendStream(conn, streamServerMsg{Type: "session.created", SessionID: rec.ID}); err != nil {
		return nil
	}
	log.Info("stream opened")

	var st *streamState
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("stream closed", "reason", err.Error())
			return nil
		}
		var msg streamClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			sendStreamError(conn, badRequestf("malformed message: %v", err))
			continue
		}

		switch msg.Type {
		case "start":
			if st != nil {
				sendStreamError(conn, badRequestf("session already started"))
				continue
			}
			next, err := s.service.newStream(msg.Config, msg.Decoder, msg.LM)
			if err != nil {
				sendStreamError(conn, err)
				continue
			}
			st = next
			if err := sendStream(conn, streamServerMsg{Type: "session.started", SessionID: rec.ID}); err != nil {
				return nil
			}

		case "frames", "close":
			if st == nil {
				sendStreamError(conn, badRequestf("session not started"))
				continue
			}
			final := msg.Final || msg.Type == "close"
			nbest, done, err := st.forward(ctx, msg.Frames, final)
			if err != nil {
				sendStreamError(conn, err)
				if isClientError(err) {
					continue
				}
				log.Warn("stream aborted", "error", err)
				return nil
			}
			rec.update(st.sess.Frames(), st.sess.Done())
			typ := "partial"
			if done {
				typ = "final"
			}
			if err := sendStream(conn, streamServerMsg{
				Type:      typ,
				SessionID: rec.ID,
				Frames:    st.sess.Frames(),
				NBest:     nbest,
			}); err != nil {
				return nil
			}
			if done {
				log.Info("stream finished", "frames", st.sess.Frames())
				return nil
			}

		default:
			sendStreamError(conn, badRequestf("unknown message type %q", msg.Type))
		}
	}
}

func sendStream(conn *websocket.Conn, msg streamServerMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func sendStreamError(conn *websocket.Conn, err error) {
	typ := "server_error"
	if isClientError(err) || errors.Is(err, decoder.ErrSessionDone) {
		typ = "invalid_request_error"
	}
	_ = sendStream(conn, streamServerMsg{
		Type:  "error",
		Error: &ResponseError{Message: err.Error(), Type: typ},
	})
}
