package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionTransitions(t *testing.T) {
	allowed := map[[2]SessionState]bool{
		{StateIdle, StateSubmitted}:      true,
		{StateSubmitted, StateStreaming}: true,
		{StateSubmitted, StateError}:     true,
		{StateStreaming, StateReady}:     true,
		{StateStreaming, StateError}:     true,
		{StateReady, StateSubmitted}:     true,
		{StateError, StateSubmitted}:     true,
	}
	all := []SessionState{StateIdle, StateSubmitted, StateStreaming, StateReady, StateError}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]SessionState{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestSessionReportsEveryTransition(t *testing.T) {
	var seen []SessionSnapshot
	owner := uuid.New()
	s := &session{
		snap:    SessionSnapshot{ChatID: uuid.New(), State: StateIdle},
		ownerID: owner,
		now:     time.Now,
		report: func(ownerID uuid.UUID, snap SessionSnapshot) {
			if ownerID != owner {
				t.Fatalf("reported to %s", ownerID)
			}
			seen = append(seen, snap)
		},
	}
	if err := s.to(StateStreaming, nil); err == nil {
		t.Fatalf("expected idle -> streaming to fail")
	}
	if err := s.to(StateSubmitted, nil); err != nil {
		t.Fatalf("submitted: %v", err)
	}
	if err := s.to(StateError, func(snap *SessionSnapshot) { snap.ErrorCode = "upstream_error" }); err != nil {
		t.Fatalf("error: %v", err)
	}
	if len(seen) != 2 || seen[1].State != StateError || seen[1].ErrorCode != "upstream_error" {
		t.Fatalf("unexpected reports: %+v", seen)
	}
	if seen[1].UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not stamped")
	}
}

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	id := uuid.New()
	if got := r.Get(id); got.State != StateIdle || got.ChatID != id {
		t.Fatalf("default snapshot = %+v", got)
	}
	r.Put(SessionSnapshot{ChatID: id, State: StateStreaming, UpdatedAt: time.Now()})
	if got := r.Get(id); got.State != StateStreaming {
		t.Fatalf("state = %s", got.State)
	}
	r.Forget(id)
	if got := r.Get(id); got.State != StateIdle {
		t.Fatalf("after forget state = %s", got.State)
	}
}

func TestSessionRegistryPrunesOldTerminalEntries(t *testing.T) {
	r := NewSessionRegistry()
	stale := time.Now().Add(-2 * time.Hour)
	live := uuid.New()
	r.Put(SessionSnapshot{ChatID: live, State: StateStreaming, UpdatedAt: stale})
	for i := 0; i < registryPruneAt; i++ {
		r.Put(SessionSnapshot{ChatID: uuid.New(), State: StateReady, UpdatedAt: stale})
	}
	r.mu.RLock()
	n := len(r.snaps)
	r.mu.RUnlock()
	if n >= registryPruneAt {
		t.Fatalf("registry not pruned: %d entries", n)
	}
	if got := r.Get(live); got.State != StateStreaming {
		t.Fatalf("in-flight session pruned: %+v", got)
	}
}
