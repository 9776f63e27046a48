// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant exposes assistant sessions over HTTP for the CRM UI.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/gateway"
	"github.com/AleutianAI/AleutianCRM/services/assistant/session"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

const (
	// DefaultWaitTimeout bounds POST /messages with wait=true.
	DefaultWaitTimeout = 2 * time.Minute

	requestIDHeader  = "X-Request-ID"
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// Handlers serves the assistant API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	sessions    *session.Manager
	registry    *tools.Registry
	logger      *slog.Logger
	waitTimeout time.Duration
	upgrader    websocket.Upgrader
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithWaitTimeout overrides DefaultWaitTimeout.
func WithWaitTimeout(d time.Duration) HandlersOption {
	return func(h *Handlers) {
		if d > 0 {
			h.waitTimeout = d
		}
	}
}

// WithAllowedOrigins limits websocket upgrades to the given origins. With
// no origins every origin is accepted.
func WithAllowedOrigins(origins []string) HandlersOption {
	return func(h *Handlers) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin] || allowed["*"]
		}
	}
}

// WithHandlersLogger sets the logger.
func WithHandlersLogger(logger *slog.Logger) HandlersOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(sessions *session.Manager, registry *tools.Registry, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		sessions:    sessions,
		registry:    registry,
		logger:      slog.Default(),
		waitTimeout: DefaultWaitTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleCreateSession handles POST /v1/assistant/sessions.
//
// Response:
//
//	201 Created: SessionResponse
//	503 Service Unavailable: Server is shutting down
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateSession")
	s, err := h.sessions.Create()
	if err != nil {
		logger.Warn("create session failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeUnavailable})
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{Info: s.Info()})
}

// HandleListSessions handles GET /v1/assistant/sessions.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, ListSessionsResponse{Sessions: h.sessions.List()})
}

// HandleCloseSession handles DELETE /v1/assistant/sessions/:id.
func (h *Handlers) HandleCloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSendMessage handles POST /v1/assistant/sessions/:id/messages.
//
// Description:
//
//	Queues the text as the next user turn. Turns of one session run in
//	the order they were posted. With wait=true the response is held until
//	the turn finishes or the wait timeout passes.
//
// Response:
//
//	200 OK: SendMessageResponse with Outcome (wait=true)
//	202 Accepted: SendMessageResponse with TurnID only
//	400 Bad Request: Missing or blank text
//	404 Not Found: Unknown session
//	409 Conflict: Session aborted
//	410 Gone: Session closed
//	429 Too Many Requests: Too many turns already queued
func (h *Handlers) HandleSendMessage(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSendMessage")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}

	ticket, err := s.Engine.Submit(req.Text, engine.WithContextHint(req.ContextHint))
	if err != nil {
		logger.Info("message rejected", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		writeSessionError(c, err)
		return
	}
	logger.Info("message queued", slog.String("session_id", s.ID), slog.String("turn_id", ticket.ID))

	if !req.Wait {
		c.JSON(http.StatusAccepted, SendMessageResponse{TurnID: ticket.ID, Pending: true})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
	defer cancel()
	outcome, err := ticket.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		finished, done := ticket.Outcome()
		if !done {
			c.JSON(http.StatusAccepted, SendMessageResponse{TurnID: ticket.ID, Pending: true})
			return
		}
		outcome, err = finished, finished.Err
	case errors.Is(err, engine.ErrSessionAborted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeSessionAborted})
		return
	case errors.Is(err, engine.ErrEngineClosed):
		c.JSON(http.StatusGone, ErrorResponse{Error: err.Error(), Code: CodeSessionClosed})
		return
	}

	resp := SendMessageResponse{TurnID: ticket.ID, Outcome: &outcome}
	if err != nil {
		resp.Error = gateway.SafeLogString(err.Error())
		resp.ErrorKind = string(gateway.KindOf(err))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListMessages handles GET /v1/assistant/sessions/:id/messages.
func (h *Handlers) HandleListMessages(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: s.Projector.Messages()})
}

// HandleHistory handles GET /v1/assistant/sessions/:id/history.
func (h *Handlers) HandleHistory(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Turns: s.Engine.History()})
}

// HandleStatus handles GET /v1/assistant/sessions/:id/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	resp := SessionResponse{Info: s.Info()}
	if abortErr := s.Engine.Err(); abortErr != nil {
		resp.Error = abortErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleStream handles GET /v1/assistant/sessions/:id/stream.
//
// Description:
//
//	Upgrades to a websocket and pushes StreamFrames: a snapshot of the
//	transcript, then one frame per append or remove. The server only
//	writes; client frames are read and discarded to detect close.
func (h *Handlers) HandleStream(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStream")
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		// Subscribe before the snapshot so no update falls between them.
		updates, cancel := s.Projector.Subscribe(streamBuffer)
		if err := h.writeFrame(conn, StreamFrame{Type: "snapshot", Messages: s.Projector.Messages()}); err != nil {
			cancel()
			return
		}

		resubscribe := false
		for !resubscribe {
			select {
			case <-closed:
				cancel()
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					cancel()
					return
				}
			case u, ok := <-updates:
				if !ok {
					// Dropped as a slow reader, or the session was closed.
					if _, err := h.sessions.Get(s.ID); err != nil {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
							time.Now().Add(streamWriteWait))
						return
					}
					resubscribe = true
					continue
				}
				msg := u.Message
				if err := h.writeFrame(conn, StreamFrame{Type: "update", Op: u.Op, Message: &msg}); err != nil {
					cancel()
					return
				}
			}
		}
	}
}

func (h *Handlers) writeFrame(conn *websocket.Conn, frame StreamFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// HandleTools handles GET /v1/assistant/tools.
func (h *Handlers) HandleTools(c *gin.Context) {
	c.JSON(http.StatusOK, ToolsResponse{Tools: h.registry.List()})
}

// HandleHealth handles GET /v1/assistant/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: h.sessions.Len(),
		Tools:    h.registry.Len(),
	})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(requestIDHeader, requestID)
	return h.logger.With(slog.String("request_id", requestID), slog.String("handler", handler))
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeSessionNotFound})
	case errors.Is(err, engine.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeEmptyMessage})
	case errors.Is(err, engine.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: CodeQueueFull})
	case errors.Is(err, engine.ErrSessionAborted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeSessionAborted})
	case errors.Is(err, engine.ErrEngineClosed):
		c.JSON(http.StatusGone, ErrorResponse{Error: err.Error(), Code: CodeSessionClosed})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
	}
}
