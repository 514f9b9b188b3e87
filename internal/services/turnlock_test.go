package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
)

func turnLockers(t *testing.T) map[string]TurnLocker {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]TurnLocker{
		"memory": NewMemoryTurnLocker(),
		"redis":  NewRedisTurnLocker(rdb, time.Minute),
	}
}

func TestTurnLockerRejectsSecondTurn(t *testing.T) {
	for name, locker := range turnLockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := uuid.New()

			release, err := locker.Acquire(ctx, chatID)
			require.NoError(t, err)

			_, err = locker.Acquire(ctx, chatID)
			require.ErrorIs(t, err, apierr.ErrConflict)
			e, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, "chat_busy", e.Code)

			other, err := locker.Acquire(ctx, uuid.New())
			require.NoError(t, err, "other chats do not contend")
			other()

			release()
			release()
			again, err := locker.Acquire(ctx, chatID)
			require.NoError(t, err)
			again()
		})
	}
}

func TestRedisTurnLockerReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	locker := NewRedisTurnLocker(rdb, time.Second)
	chatID := uuid.New()

	release, err := locker.Acquire(context.Background(), chatID)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	next, err := locker.Acquire(context.Background(), chatID)
	require.NoError(t, err, "expired lock is free")

	release()
	_, err = locker.Acquire(context.Background(), chatID)
	assert.ErrorIs(t, err, apierr.ErrConflict, "stale release must not drop the new holder's lock")
	next()
}
