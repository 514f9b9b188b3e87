package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/realtime"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// GET /api/events subscribes the connection to the caller's user channel,
// where chat and session events for every chat they own are published.
func (h *RealtimeHandler) Events(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	client := h.hub.Subscribe(userID, userID.String())
	h.log.Debug("SSE stream open", "user_id", userID, "client_id", client.ID)

	h.hub.Stream(c.Writer, c.Request, client)

	h.hub.Unsubscribe(client)
	h.log.Debug("SSE stream closed", "user_id", userID, "client_id", client.ID, "dropped", client.Dropped())
}
