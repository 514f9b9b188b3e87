package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/realtime"
)

func TestRedisBusForwardsAcrossSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b, err := NewRedisBus(logger.Nop(), rdb, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan realtime.SSEMessage, 4)
	require.NoError(t, b.StartForwarder(ctx, func(m realtime.SSEMessage) { got <- m }))

	require.NoError(t, b.Publish(ctx, realtime.SSEMessage{
		Channel: "user-1",
		Event:   realtime.SSEEventChatCreated,
		Data:    map[string]any{"chat_id": "c1"},
	}))

	select {
	case m := <-got:
		assert.Equal(t, "user-1", m.Channel)
		assert.Equal(t, realtime.SSEEventChatCreated, m.Event)
		data, ok := m.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "c1", data["chat_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}
}

func TestLocalBusDeliversSynchronously(t *testing.T) {
	b := NewLocalBus()
	var seen []realtime.SSEEvent
	require.NoError(t, b.StartForwarder(context.Background(), func(m realtime.SSEMessage) { seen = append(seen, m.Event) }))
	require.NoError(t, b.Publish(context.Background(), realtime.SSEMessage{Channel: "u", Event: realtime.SSEEventChatDeleted}))
	assert.Equal(t, []realtime.SSEEvent{realtime.SSEEventChatDeleted}, seen)
}

func TestDecodeEnvelope(t *testing.T) {
	msg, err := decodeEnvelope(`{"v":1,"msg":{"channel":"u1","event":"ChatUpdated"}}`)
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.Channel)

	_, err = decodeEnvelope(`{"v":2,"msg":{"channel":"u1","event":"ChatUpdated"}}`)
	assert.ErrorContains(t, err, "version")
	_, err = decodeEnvelope(`{"v":1,"msg":{"event":"ChatUpdated"}}`)
	assert.Error(t, err)
	_, err = decodeEnvelope(`not json`)
	assert.Error(t, err)
}

func TestRedisBusClose(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b, err := NewRedisBus(logger.Nop(), rdb, "test:sse")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.StartForwarder(ctx, func(realtime.SSEMessage) {}))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, realtime.SSEMessage{Channel: "u1"}), ErrBusClosed)
	assert.ErrorIs(t, b.StartForwarder(ctx, func(realtime.SSEMessage) {}), ErrBusClosed)
	assert.NoError(t, rdb.Ping(ctx).Err(), "client must stay open")
}
