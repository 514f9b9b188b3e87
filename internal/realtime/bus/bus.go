package bus

import (
	"context"
	"sync"

	"github.com/yungbote/chatcore-backend/internal/realtime"
)

// Bus delivers SSE messages to every API instance. Each instance forwards
// what it receives into its local hub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}

var (
	_ Bus = (*LocalBus)(nil)
	_ Bus = (*RedisBus)(nil)
)

// LocalBus is the single-instance bus used when redis is not configured.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(m realtime.SSEMessage)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(msg)
	}
	return nil
}

func (b *LocalBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, onMsg)
	return nil
}

func (b *LocalBus) Close() error { return nil }
