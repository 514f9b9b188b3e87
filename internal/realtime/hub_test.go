package realtime

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

func recv(t *testing.T, c *SSEClient) SSEMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "client channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubDeliversInOrderAndAcrossReconnect(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := uuid.NewString()

	a := hub.Subscribe(uuid.New(), channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventChatCreated})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventMessageCommitted})
	assert.Equal(t, SSEEventChatCreated, recv(t, a).Event)
	assert.Equal(t, SSEEventMessageCommitted, recv(t, a).Event)

	hub.Unsubscribe(a)
	_, open := <-a.Messages()
	assert.False(t, open)

	b := hub.Subscribe(uuid.New(), channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventChatDeleted})
	assert.Equal(t, SSEEventChatDeleted, recv(t, b).Event)
}

func TestSSEHubChannelIsolation(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	mine := hub.Subscribe(uuid.New(), "u1", " ")
	other := hub.Subscribe(uuid.New(), "u2")

	hub.Broadcast(SSEMessage{Channel: "u1", Event: SSEEventChatUpdated})
	hub.Broadcast(SSEMessage{Event: SSEEventChatUpdated})

	assert.Equal(t, SSEEventChatUpdated, recv(t, mine).Event)
	select {
	case msg := <-other.Messages():
		t.Fatalf("unexpected delivery to other channel: %+v", msg)
	default:
	}
	assert.Equal(t, 1, hub.Subscribers("u1"))
	assert.Equal(t, 0, hub.Subscribers(" "))
}

func TestSSEHubDropsWhenBufferFull(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	c := hub.Subscribe(uuid.New(), "u1")
	for i := 0; i < outboundBuffer+3; i++ {
		hub.Broadcast(SSEMessage{Channel: "u1", Event: SSEEventSessionState})
	}
	assert.EqualValues(t, 3, c.Dropped())
}

func TestSSEHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	c := hub.Subscribe(uuid.New(), "u1")
	require.Equal(t, 1, hub.Subscribers("u1"))

	hub.Unsubscribe(c)
	hub.Unsubscribe(c)
	assert.Equal(t, 0, hub.Subscribers("u1"))
	hub.Broadcast(SSEMessage{Channel: "u1", Event: SSEEventChatUpdated})
}

func TestSSEHubStreamWritesEvents(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	c := hub.Subscribe(uuid.New(), "u1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		hub.Stream(rec, req, c)
		close(done)
	}()

	hub.Broadcast(SSEMessage{Channel: "u1", Event: SSEEventChatCreated, Data: map[string]any{"chat_id": "c1"}})
	hub.Broadcast(SSEMessage{Channel: "u1", Event: SSEEventChatUpdated})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "retry: 3000\n\n")
	assert.Contains(t, body, "id: 1\nevent: ChatCreated\n")
	assert.Contains(t, body, "id: 2\nevent: ChatUpdated\n")
	assert.Contains(t, body, `"chat_id":"c1"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWriteEventFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEvent(&buf, 7, SSEMessage{Channel: "u1", Event: SSEEventChatDeleted}))
	assert.Equal(t, "id: 7\nevent: ChatDeleted\ndata: {\"channel\":\"u1\",\"event\":\"ChatDeleted\"}\n\n", buf.String())
}
