package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. It is only correct for a single instance.
type MemoryStore struct {
	mu    sync.Mutex
	units map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{units: map[string][]time.Time{}}
}

func (s *MemoryStore) Consume(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	live := prune(s.units[key], now, window)
	consumed := false
	if len(live) < limit {
		live = append(live, now)
		sort.Slice(live, func(i, j int) bool { return live[i].Before(live[j]) })
		consumed = true
	}
	s.setLocked(key, live)
	return snapshot(live, consumed), nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	live := prune(s.units[key], now, window)
	s.setLocked(key, live)
	return snapshot(live, false), nil
}

func (s *MemoryStore) setLocked(key string, live []time.Time) {
	if len(live) == 0 {
		delete(s.units, key)
		return
	}
	s.units[key] = live
}

// prune drops units recorded at or before now-window.
func prune(units []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := units[:0]
	for _, t := range units {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func snapshot(live []time.Time, consumed bool) Window {
	w := Window{Count: len(live), Consumed: consumed}
	if len(live) > 0 {
		w.Oldest = live[0]
	}
	return w
}
