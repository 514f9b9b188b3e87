package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SSEClient is one open event stream. It is created by SSEHub.Subscribe and
// released by SSEHub.Unsubscribe.
type SSEClient struct {
	ID     uuid.UUID
	UserID uuid.UUID

	channels map[string]struct{}
	outbound chan SSEMessage
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

// Messages yields broadcasts for the client's channels. It is closed on
// Unsubscribe.
func (c *SSEClient) Messages() <-chan SSEMessage { return c.outbound }

// Done is closed when the hub drops the client.
func (c *SSEClient) Done() <-chan struct{} { return c.done }

// Dropped counts messages lost because the client's buffer was full.
func (c *SSEClient) Dropped() int64 { return c.dropped.Load() }
