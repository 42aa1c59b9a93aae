package core

import (
	"encoding/json"
	"fmt"
)

// Request is the raw workflow input as received from a caller. History, when
// non-empty, takes precedence over Query and is reduced to a single query by
// the dispatcher.
type Request struct {
	Query     string         `json:"query"`
	History   []any          `json:"history,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Query is the normalized input broadcast to every branch. It must not be
// modified after dispatch.
type Query struct {
	Text      string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Param returns a routing parameter rendered as a string.
func (q Query) Param(key string) (string, bool) {
	v, ok := q.Params[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// WithSession returns a copy of q bound to the given session id.
func (q Query) WithSession(id string) Query {
	q.SessionID = id
	return q
}

// InvokeResponse is the wire shape returned by the invoke endpoints and the
// persistent channel. Error is only populated when the run could not produce
// a result.
type InvokeResponse struct {
	Response  json.RawMessage `json:"response,omitempty"`
	SessionID string          `json:"session_id"`
	Error     string          `json:"error,omitempty"`
}
