package services

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/realtime"
)

// ChatNotifier publishes chat events to the owner's SSE channel.
type ChatNotifier interface {
	ChatCreated(ownerID uuid.UUID, chat *domain.Chat)
	ChatUpdated(ownerID uuid.UUID, chat *domain.Chat)
	ChatDeleted(ownerID uuid.UUID, chatID uuid.UUID)
	MessageCommitted(ownerID uuid.UUID, chatID uuid.UUID, msg *domain.Message)
	MessagesTruncated(ownerID uuid.UUID, chatID uuid.UUID, afterMessageID uuid.UUID, removed int64)
	SessionState(ownerID uuid.UUID, snap SessionSnapshot)
}

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

func (n *chatNotifier) send(ownerID uuid.UUID, event realtime.SSEEvent, data map[string]any) {
	if n == nil || n.emit == nil || ownerID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: ownerID.String(),
		Event:   event,
		Data:    data,
	})
}

func (n *chatNotifier) ChatCreated(ownerID uuid.UUID, chat *domain.Chat) {
	n.send(ownerID, realtime.SSEEventChatCreated, map[string]any{"chat": chat})
}

func (n *chatNotifier) ChatUpdated(ownerID uuid.UUID, chat *domain.Chat) {
	n.send(ownerID, realtime.SSEEventChatUpdated, map[string]any{"chat": chat})
}

func (n *chatNotifier) ChatDeleted(ownerID uuid.UUID, chatID uuid.UUID) {
	n.send(ownerID, realtime.SSEEventChatDeleted, map[string]any{"chat_id": chatID})
}

func (n *chatNotifier) MessageCommitted(ownerID uuid.UUID, chatID uuid.UUID, msg *domain.Message) {
	n.send(ownerID, realtime.SSEEventMessageCommitted, map[string]any{"chat_id": chatID, "message": msg})
}

func (n *chatNotifier) MessagesTruncated(ownerID uuid.UUID, chatID uuid.UUID, afterMessageID uuid.UUID, removed int64) {
	n.send(ownerID, realtime.SSEEventMessagesTruncated, map[string]any{
		"chat_id":          chatID,
		"after_message_id": afterMessageID,
		"removed":          removed,
	})
}

func (n *chatNotifier) SessionState(ownerID uuid.UUID, snap SessionSnapshot) {
	n.send(ownerID, realtime.SSEEventSessionState, map[string]any{"session": snap})
}
