package testutil

import (
	"encoding/json"
	"time"

	"github.com/bcgov/nr-ai-form/core"
)

// ThreadBuilder helps construct conversation threads for tests.
//
//	state := NewThreadBuilder().Turn("hi", "hello").State()
type ThreadBuilder struct {
	turns []core.Turn
	at    time.Time
}

// NewThreadBuilder creates an empty thread builder.
func NewThreadBuilder() *ThreadBuilder {
	return &ThreadBuilder{at: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Turn appends a query with its JSON-encoded response (chainable).
func (b *ThreadBuilder) Turn(query string, response any) *ThreadBuilder {
	raw, err := json.Marshal(response)
	if err != nil {
		panic(err)
	}
	b.turns = append(b.turns, core.Turn{Query: query, Response: raw, At: b.at})
	b.at = b.at.Add(time.Minute)
	return b
}

// Build returns the thread.
func (b *ThreadBuilder) Build() *core.Thread {
	return &core.Thread{Turns: append([]core.Turn{}, b.turns...)}
}

// State returns the encoded thread, ready to hand to a session store.
func (b *ThreadBuilder) State() []byte {
	data, err := b.Build().Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// Session returns a stored session carrying the built thread.
func (b *ThreadBuilder) Session(id string) *core.Session {
	s := core.NewSession(id, core.BackendMemory)
	s.State = b.State()
	s.Fresh = false
	return s
}
