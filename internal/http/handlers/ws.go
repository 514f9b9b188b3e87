package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsReadLimit  = 1 << 20
	wsQueueSize  = 4
)

// wsRequest is one client frame. Action is "submit" or "reload".
type wsRequest struct {
	Action         string       `json:"action"`
	Parts          domain.Parts `json:"parts,omitempty"`
	Model          string       `json:"model,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// WebSocketHandler serves chat turns over one long-lived socket per chat.
// Turns run one at a time in arrival order; closing the socket cancels the
// turn in flight.
type WebSocketHandler struct {
	stream   *StreamHandler
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(stream *StreamHandler, allowedOrigins []string) *WebSocketHandler {
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return &WebSocketHandler{
		stream: stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// GET /api/chats/:id/stream/ws
func (h *WebSocketHandler) Serve(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.stream.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	w := &wsWriter{conn: conn}
	requests := make(chan wsRequest, wsQueueSize)
	go h.readLoop(cancel, conn, w, requests)
	go w.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			h.runTurn(ctx, w, chatID, userID, req)
		}
	}
}

// readLoop keeps reading while a turn runs so a closed socket cancels it.
func (h *WebSocketHandler) readLoop(cancel context.CancelFunc, conn *websocket.Conn, w *wsWriter, out chan<- wsRequest) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		select {
		case out <- req:
		default:
			w.send(EventError, response.APIError{Message: "too many queued turns", Code: "chat_busy"})
		}
	}
}

func (h *WebSocketHandler) runTurn(ctx context.Context, w *wsWriter, chatID, userID uuid.UUID, req wsRequest) {
	sink := &wsSink{w: w}
	var (
		res *services.TurnResult
		err error
	)
	switch req.Action {
	case "submit":
		res, err = h.stream.sessions.Submit(ctx, services.SubmitInput{
			ChatID:         chatID,
			RequesterID:    userID,
			Parts:          req.Parts,
			Model:          req.Model,
			IdempotencyKey: req.IdempotencyKey,
		}, sink)
	case "reload":
		res, err = h.stream.sessions.Reload(ctx, services.ReloadInput{ChatID: chatID, RequesterID: userID, Model: req.Model}, sink)
	default:
		w.send(EventError, response.APIError{Message: "unknown action " + req.Action, Code: "invalid_request"})
		return
	}
	if err != nil {
		w.send(EventError, response.EnvelopeFor(err).Error)
		return
	}
	w.send(EventDone, res)
}

// wsWriter serializes frames from the turn and the pinger.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = w.conn.WriteJSON(wsFrame{Event: event, Data: data})
}

func (w *wsWriter) pingLoop(ctx context.Context) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.mu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type wsSink struct{ w *wsWriter }

func (s *wsSink) UserMessage(msg *domain.Message)     { s.w.send(EventUserMessage, msg) }
func (s *wsSink) Fragment(f generation.Fragment)      { s.w.send(EventFragment, f) }
func (s *wsSink) State(snap services.SessionSnapshot) { s.w.send(EventState, snap) }
