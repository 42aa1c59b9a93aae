package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BackendKind names the persistence backend a session was served from.
type BackendKind string

const (
	// BackendMemory keeps sessions in process memory.
	BackendMemory BackendKind = "memory"
	// BackendRedis is the TTL cache backend.
	BackendRedis BackendKind = "redis"
	// BackendDocument is the durable document backend.
	BackendDocument BackendKind = "document"
)

// Session is a handle to one conversation's persisted state. State is an
// opaque blob; stores never look inside it.
type Session struct {
	ID      string      `json:"id"`
	State   []byte      `json:"state"`
	Backend BackendKind `json:"backend"`
	// Fresh is true when the session was created rather than loaded.
	Fresh bool `json:"-"`
}

// NewSession creates an empty session for id.
func NewSession(id string, backend BackendKind) *Session {
	return &Session{ID: id, Backend: backend, Fresh: true}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	clone := *s
	if s.State != nil {
		clone.State = append([]byte(nil), s.State...)
	}
	return &clone
}

// SessionStore persists per-session state. Implementations never fail
// GetOrCreate: a missing or unreadable session yields a fresh one.
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID string) *Session
	Save(ctx context.Context, sessionID string, state []byte) error
	Close() error
}

// Turn is one query/answer exchange in a conversation thread.
type Turn struct {
	Query    string          `json:"query"`
	Response json.RawMessage `json:"response,omitempty"`
	At       time.Time       `json:"at"`
}

// Thread is the conversation record serialized into Session.State.
type Thread struct {
	Turns []Turn `json:"turns"`
}

// DecodeThread parses session state. Empty state yields an empty thread.
func DecodeThread(state []byte) (*Thread, error) {
	t := &Thread{Turns: []Turn{}}
	if len(state) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(state, t); err != nil {
		return &Thread{Turns: []Turn{}}, fmt.Errorf("decoding thread state: %w", err)
	}
	if t.Turns == nil {
		t.Turns = []Turn{}
	}
	return t, nil
}

// Append adds a turn and keeps at most max turns (max <= 0 keeps all).
func (t *Thread) Append(turn Turn, max int) {
	t.Turns = append(t.Turns, turn)
	if max > 0 && len(t.Turns) > max {
		t.Turns = append([]Turn(nil), t.Turns[len(t.Turns)-max:]...)
	}
}

// Last returns the most recent turn.
func (t *Thread) Last() (Turn, bool) {
	if len(t.Turns) == 0 {
		return Turn{}, false
	}
	return t.Turns[len(t.Turns)-1], true
}

// Encode serializes the thread for storage.
func (t *Thread) Encode() ([]byte, error) {
	return json.Marshal(t)
}
