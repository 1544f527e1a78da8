// Package api serves the decoding engines over HTTP: one-shot decode and
// transduce endpoints, a websocket streaming endpoint, and management of the
// live streaming sessions behind it.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/decoder"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/transducer"
	"github.com/samcharles93/lattice/internal/version"
)

type Server struct {
	store    *SessionStore
	service  *DecodeService
	log      logger.Logger
	clock    func() time.Time
	upgrader websocket.Upgrader
}

func NewServer(store *SessionStore, service *DecodeService, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	if store == nil {
		store = NewSessionStore()
	}
	if service == nil {
		service = NewDecodeService(log)
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
		clock:   time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	// One-shot decoding
	e.POST("/v1/decode", s.handleDecode)
	e.POST("/v1/transduce", s.handleTransduce)

	// Streaming sessions
	e.GET("/v1/stream", s.handleStream)
	e.GET("/v1/sessions", s.handleListSessions)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleDecode(c *echo.Context) error {
	req, err := decodeJSON[DecodeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	nbest, frames, err := s.service.Decode(c.Request().Context(), req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, DecodeResponse{
		ID:      "dec_" + uuid.NewString(),
		Object:  "decode.result",
		Created: s.clock().Unix(),
		Frames:  frames,
		NBest:   nbest,
	})
}

func (s *Server) handleTransduce(c *echo.Context) error {
	req, err := decodeJSON[TransduceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	nbest, frames, err := s.service.Transduce(c.Request().Context(), req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, DecodeResponse{
		ID:      "trd_" + uuid.NewString(),
		Object:  "transduce.result",
		Created: s.clock().Unix(),
		Frames:  frames,
		NBest:   nbest,
	})
}

func (s *Server) handleListSessions(c *echo.Context) error {
	return c.JSON(http.StatusOK, SessionList{
		Object: "list",
		Data:   s.store.List(),
	})
}

func (s *Server) handleGetSession(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "session not found")
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "session not found")
	}
	return c.JSON(http.StatusOK, rec.info())
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "session not found")
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "session not found")
	}
	rec.Cancel()
	if !s.store.Remove(id) {
		return writeNotFound(c, "session not found")
	}
	return c.JSON(http.StatusOK, DeleteSessionResp{
		ID:      id,
		Object:  "decode.session",
		Deleted: true,
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeServiceError maps engine failures onto status codes: whatever the
// request caused answers 400, the rest surfaces as 500.
func (s *Server) writeServiceError(c *echo.Context, err error) error {
	if isClientError(err) {
		return writeBadRequest(c, err.Error())
	}
	s.log.Error("request failed", "error", err)
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}

func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, decoder.ErrInvalidConfig) ||
		errors.Is(err, transducer.ErrInvalidConfig) ||
		errors.Is(err, transducer.ErrInvalidTrellis) ||
		errors.Is(err, transducer.ErrUnknownSearchType)
}
