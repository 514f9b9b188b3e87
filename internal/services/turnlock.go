package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
)

// TurnLocker guards the span from "append user message" to "append assistant
// message" for one chat. A second turn on a busy chat is rejected, not queued.
type TurnLocker interface {
	// Acquire returns ErrConflict (code chat_busy) when the chat already has
	// an active turn. release is safe to call more than once.
	Acquire(ctx context.Context, chatID uuid.UUID) (release func(), err error)
}

func errChatBusy() error {
	return apierr.Conflict("chat_busy", "a response is already being generated for this chat")
}

type MemoryTurnLocker struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

func NewMemoryTurnLocker() *MemoryTurnLocker {
	return &MemoryTurnLocker{active: map[uuid.UUID]struct{}{}}
}

func (l *MemoryTurnLocker) Acquire(ctx context.Context, chatID uuid.UUID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[chatID]; busy {
		return nil, errChatBusy()
	}
	l.active[chatID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, chatID)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTurnLocker shares turn locks across API instances. The TTL bounds how
// long a crashed instance can keep a chat busy. Config rejects a TTL that
// does not exceed the session timeout.
type RedisTurnLocker struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewRedisTurnLocker(rdb goredis.UniversalClient, ttl time.Duration) *RedisTurnLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisTurnLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisTurnLocker) Acquire(ctx context.Context, chatID uuid.UUID) (func(), error) {
	key := "chatturn:" + chatID.String()
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apierr.StoreUnavailable("acquire chat turn", err)
	}
	if !ok {
		return nil, errChatBusy()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}
