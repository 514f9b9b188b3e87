package realtime

type SSEEvent string

const (
	SSEEventChatCreated       SSEEvent = "ChatCreated"
	SSEEventChatUpdated       SSEEvent = "ChatUpdated"
	SSEEventChatDeleted       SSEEvent = "ChatDeleted"
	SSEEventMessageCommitted  SSEEvent = "ChatMessageCommitted"
	SSEEventMessagesTruncated SSEEvent = "ChatMessagesTruncated"
	SSEEventSessionState      SSEEvent = "ChatSessionState"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}
