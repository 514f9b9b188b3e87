package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateSubmitted SessionState = "submitted"
	StateStreaming SessionState = "streaming"
	StateReady     SessionState = "ready"
	StateError     SessionState = "error"
)

var sessionTransitions = map[SessionState][]SessionState{
	StateIdle:      {StateSubmitted},
	StateSubmitted: {StateStreaming, StateError},
	StateStreaming: {StateReady, StateError},
	StateReady:     {StateSubmitted},
	StateError:     {StateSubmitted},
}

func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionState) Terminal() bool {
	return s == StateIdle || s == StateReady || s == StateError
}

// SessionSnapshot is the last known transition of a chat's streaming
// session. Clients use it to tell "still streaming" from "reply failed".
type SessionSnapshot struct {
	ChatID             uuid.UUID    `json:"chat_id"`
	State              SessionState `json:"state"`
	UserMessageID      *uuid.UUID   `json:"user_message_id,omitempty"`
	AssistantMessageID *uuid.UUID   `json:"assistant_message_id,omitempty"`
	ErrorCode          string       `json:"error_code,omitempty"`
	Error              string       `json:"error,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// session drives one turn through the state machine. It is owned by the
// goroutine running the turn.
type session struct {
	snap    SessionSnapshot
	ownerID uuid.UUID
	report  func(ownerID uuid.UUID, snap SessionSnapshot)
	now     func() time.Time
}

func (s *session) State() SessionState { return s.snap.State }

func (s *session) to(next SessionState, mutate func(*SessionSnapshot)) error {
	if !s.snap.State.CanTransition(next) {
		return fmt.Errorf("invalid session transition %s -> %s", s.snap.State, next)
	}
	s.snap.State = next
	if mutate != nil {
		mutate(&s.snap)
	}
	s.snap.UpdatedAt = s.now().UTC()
	if s.report != nil {
		s.report(s.ownerID, s.snap)
	}
	return nil
}

const (
	registryPruneAt  = 10000
	registryRetainTo = time.Hour
)

// SessionRegistry remembers the latest snapshot per chat on this instance.
type SessionRegistry struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]SessionSnapshot
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{snaps: map[uuid.UUID]SessionSnapshot{}}
}

// Get returns the chat's last snapshot, or an idle one if this instance has
// not run a turn for it.
func (r *SessionRegistry) Get(chatID uuid.UUID) SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if snap, ok := r.snaps[chatID]; ok {
		return snap
	}
	return SessionSnapshot{ChatID: chatID, State: StateIdle}
}

func (r *SessionRegistry) Put(snap SessionSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[snap.ChatID] = snap
	if len(r.snaps) >= registryPruneAt {
		cutoff := time.Now().UTC().Add(-registryRetainTo)
		for id, s := range r.snaps {
			if s.State.Terminal() && s.UpdatedAt.Before(cutoff) {
				delete(r.snaps, id)
			}
		}
	}
}

func (r *SessionRegistry) Forget(chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snaps, chatID)
}
