package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/realtime"
)

const (
	DefaultChannel  = "chatcore:sse"
	envelopeVersion = 1
)

// envelope is the pub/sub payload. Payloads with another version are
// skipped so instances on different releases can share a channel.
type envelope struct {
	V   int                 `json:"v"`
	Msg realtime.SSEMessage `json:"msg"`
}

var ErrBusClosed = errors.New("bus closed")

// RedisBus fans messages out over one pub/sub channel. Every instance,
// including the publisher, receives each message through its forwarder.
type RedisBus struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string

	mu     sync.Mutex
	subs   []*goredis.PubSub
	closed bool
}

// NewRedisBus does not take ownership of rdb; Close leaves it open.
func NewRedisBus(log *logger.Logger, rdb goredis.UniversalClient, channel string) (*RedisBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		log:     log.With("component", "RedisBus", "channel", channel),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	raw, err := json.Marshal(envelope{V: envelopeVersion, Msg: msg})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and returns once the subscription is confirmed,
// so nothing published afterwards is missed. Delivery stops when ctx ends or
// the bus is closed.
func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Close()
		return ErrBusClosed
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.forward(ctx, sub, onMsg)
	return nil
}

func (b *RedisBus) forward(ctx context.Context, sub *goredis.PubSub, onMsg func(m realtime.SSEMessage)) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := decodeEnvelope(m.Payload)
			if err != nil {
				b.log.Warn("Skipping realtime payload", "error", err)
				continue
			}
			onMsg(msg)
		}
	}
}

func decodeEnvelope(payload string) (realtime.SSEMessage, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return realtime.SSEMessage{}, err
	}
	if env.V != envelopeVersion {
		return realtime.SSEMessage{}, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	if env.Msg.Channel == "" {
		return realtime.SSEMessage{}, fmt.Errorf("envelope without channel")
	}
	return env.Msg, nil
}

// Close stops every forwarder. The redis client stays open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}
