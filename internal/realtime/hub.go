package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

const (
	outboundBuffer = 32
	retryHintMS    = 3000
)

// SSEHub fans messages out to subscribed clients of this instance. Channels
// are user ids; cross-instance delivery goes through bus.Bus.
type SSEHub struct {
	mu        sync.RWMutex
	log       *logger.Logger
	channels  map[string]map[*SSEClient]struct{}
	heartbeat time.Duration
}

func NewSSEHub(log *logger.Logger) *SSEHub {
	return &SSEHub{
		log:       log.With("component", "SSEHub"),
		channels:  make(map[string]map[*SSEClient]struct{}),
		heartbeat: 15 * time.Second,
	}
}

// Subscribe registers a new client on the given channels. Blank channel
// names are ignored.
func (hub *SSEHub) Subscribe(userID uuid.UUID, channels ...string) *SSEClient {
	c := &SSEClient{
		ID:       uuid.New(),
		UserID:   userID,
		channels: make(map[string]struct{}, len(channels)),
		outbound: make(chan SSEMessage, outboundBuffer),
		done:     make(chan struct{}),
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		c.channels[ch] = struct{}{}
		set, ok := hub.channels[ch]
		if !ok {
			set = make(map[*SSEClient]struct{})
			hub.channels[ch] = set
		}
		set[c] = struct{}{}
	}
	hub.log.Debug("SSE client subscribed", "client_id", c.ID, "channels", len(c.channels))
	return c
}

// Unsubscribe removes the client from every channel and closes its message
// channel. Repeated calls are no-ops.
func (hub *SSEHub) Unsubscribe(c *SSEClient) {
	c.once.Do(func() {
		close(c.done)
		hub.mu.Lock()
		for ch := range c.channels {
			if set, ok := hub.channels[ch]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(hub.channels, ch)
				}
			}
		}
		close(c.outbound)
		hub.mu.Unlock()
	})
}

func (hub *SSEHub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.channels[channel])
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (hub *SSEHub) Broadcast(msg SSEMessage) {
	if msg.Channel == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.channels[msg.Channel] {
		select {
		case c.outbound <- msg:
		default:
			c.dropped.Add(1)
			hub.log.Warn("Dropping SSE message; outbound buffer full", "client_id", c.ID, "event", msg.Event)
		}
	}
}

// Stream writes the client's messages to w until the request ends or the
// client is unsubscribed. Each event carries a per-connection id.
func (hub *SSEHub) Stream(w http.ResponseWriter, r *http.Request, c *SSEClient) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryHintMS)
	flusher.Flush()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	var seq int64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			seq++
			if err := writeEvent(w, seq, msg); err != nil {
				hub.log.Warn("SSE write failed", "client_id", c.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, id int64, msg SSEMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, msg.Event, payload)
	return err
}
