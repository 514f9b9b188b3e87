package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/services"
)

const (
	EventUserMessage = "user-message"
	EventFragment    = "fragment"
	EventState       = "state"
	EventDone        = "done"
	EventError       = "error"
)

const headerIdempotencyKey = "Idempotency-Key"

// StreamHandler runs one chat turn per request and streams it back as
// server-sent events. Errors raised before the first event are plain JSON
// responses with their taxonomy status.
type StreamHandler struct {
	log      *logger.Logger
	sessions services.SessionService
}

func NewStreamHandler(log *logger.Logger, sessions services.SessionService) *StreamHandler {
	return &StreamHandler{log: log.With("handler", "StreamHandler"), sessions: sessions}
}

type submitReq struct {
	Parts          domain.Parts `json:"parts"`
	Model          string       `json:"model"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type reloadReq struct {
	Model string `json:"model"`
}

// POST /api/chats/:id/stream
func (h *StreamHandler) Submit(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if key == "" {
		key = req.IdempotencyKey
	}
	in := services.SubmitInput{ChatID: chatID, RequesterID: userID, Parts: req.Parts, Model: req.Model, IdempotencyKey: key}
	h.serve(c, func(ctx context.Context, sink services.EventSink) (*services.TurnResult, error) {
		return h.sessions.Submit(ctx, in, sink)
	})
}

// POST /api/chats/:id/reload
func (h *StreamHandler) Reload(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req reloadReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	in := services.ReloadInput{ChatID: chatID, RequesterID: userID, Model: req.Model}
	h.serve(c, func(ctx context.Context, sink services.EventSink) (*services.TurnResult, error) {
		return h.sessions.Reload(ctx, in, sink)
	})
}

type turnFunc func(ctx context.Context, sink services.EventSink) (*services.TurnResult, error)

func (h *StreamHandler) serve(c *gin.Context, run turnFunc) {
	sink := &sseSink{c: c}
	res, err := run(c.Request.Context(), sink)
	if err != nil {
		if !sink.started {
			response.RespondAPIError(c, err)
			return
		}
		sink.send(EventError, response.EnvelopeFor(err).Error)
		return
	}
	sink.send(EventDone, res)
}

// sseSink writes turn events to the response. Headers go out with the first
// event, so a turn rejected up front still gets a normal status code.
type sseSink struct {
	c       *gin.Context
	started bool
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
}

func (s *sseSink) send(event string, data any) {
	s.start()
	s.c.SSEvent(event, data)
	s.c.Writer.Flush()
}

func (s *sseSink) UserMessage(msg *domain.Message)     { s.send(EventUserMessage, msg) }
func (s *sseSink) Fragment(f generation.Fragment)      { s.send(EventFragment, f) }
func (s *sseSink) State(snap services.SessionSnapshot) { s.send(EventState, snap) }

var _ services.EventSink = (*sseSink)(nil)
