package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

const (
	DefaultCapacity = 5
	DefaultWindow   = 24 * time.Hour
)

// Window is a snapshot of one key's rolling window after pruning expired units.
type Window struct {
	Count    int
	Consumed bool
	// Oldest is the timestamp of the oldest unit still inside the window. Zero when Count is 0.
	Oldest time.Time
}

// Store keeps the per-key unit timestamps. A unit recorded at t stops counting
// at t+window. Consume must be atomic: it only records a unit when fewer than
// limit units remain in the window.
type Store interface {
	Consume(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Window, error)
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
}

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	// Unlimited is set for resources that are not subject to the limiter.
	Unlimited bool `json:"unlimited,omitempty"`
}

// Err returns the QuotaExceeded error for a denied decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apierr.QuotaExceeded(apierr.QuotaInfo{Remaining: d.Remaining, Limit: d.Limit, ResetAt: d.ResetAt})
}

type Status struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	Unlimited bool      `json:"unlimited,omitempty"`
	// Degraded is set when the store could not be read and the status is a fail-open guess.
	Degraded bool `json:"degraded,omitempty"`
}

type Config struct {
	Capacity  int
	Window    time.Duration
	Resources []string
}

type Limiter struct {
	store     Store
	log       *logger.Logger
	limit     int
	window    time.Duration
	resources map[string]struct{}
	now       func() time.Time
}

func NewLimiter(store Store, log *logger.Logger, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	res := make(map[string]struct{}, len(cfg.Resources))
	for _, r := range cfg.Resources {
		r = strings.TrimSpace(r)
		if r != "" {
			res[r] = struct{}{}
		}
	}
	return &Limiter{
		store:     store,
		log:       log.With("service", "RateLimiter"),
		limit:     cfg.Capacity,
		window:    cfg.Window,
		resources: res,
		now:       time.Now,
	}, nil
}

func (l *Limiter) Capacity() int { return l.limit }

func (l *Limiter) Window() time.Duration { return l.window }

// Limited reports whether resource is subject to the limiter.
func (l *Limiter) Limited(resource string) bool {
	_, ok := l.resources[strings.TrimSpace(resource)]
	return ok
}

// CheckAndConsume takes one unit for userID on resource if any remain. When the
// store cannot be reached the request is denied.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID string, resource string) (Decision, error) {
	if strings.TrimSpace(userID) == "" {
		return Decision{}, apierr.Validation("missing user id")
	}
	if !l.Limited(resource) {
		return Decision{Allowed: true, Unlimited: true}, nil
	}
	now := l.now().UTC()
	w, err := l.store.Consume(ctx, key(resource, userID), now, l.limit, l.window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, denying", "resource", resource, "user_id", userID, "error", err)
		return Decision{Allowed: false, Limit: l.limit, ResetAt: now.Add(l.window)}, apierr.StoreUnavailable("rate limit consume", err)
	}
	d := Decision{
		Allowed:   w.Consumed,
		Remaining: remaining(l.limit, w.Count),
		Limit:     l.limit,
		ResetAt:   l.resetAt(now, w),
	}
	if !d.Allowed {
		l.log.Info("quota exhausted", "resource", resource, "user_id", userID, "reset_at", d.ResetAt)
	}
	return d, nil
}

// Status never consumes a unit. A store failure reports the full quota.
func (l *Limiter) Status(ctx context.Context, userID string, resource string) Status {
	if !l.Limited(resource) {
		return Status{Unlimited: true}
	}
	now := l.now().UTC()
	w, err := l.store.Peek(ctx, key(resource, userID), now, l.window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, reporting full quota", "resource", resource, "user_id", userID, "error", err)
		return Status{Remaining: l.limit, Limit: l.limit, ResetAt: now.Add(l.window), Degraded: true}
	}
	return Status{
		Remaining: remaining(l.limit, w.Count),
		Limit:     l.limit,
		ResetAt:   l.resetAt(now, w),
	}
}

// resetAt is when the oldest unit leaves the window and capacity starts to return.
func (l *Limiter) resetAt(now time.Time, w Window) time.Time {
	if w.Count == 0 || w.Oldest.IsZero() {
		return now.Add(l.window)
	}
	return w.Oldest.Add(l.window).UTC()
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

func key(resource, userID string) string {
	return "ratelimit:" + strings.TrimSpace(resource) + ":" + strings.TrimSpace(userID)
}
