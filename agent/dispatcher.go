package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	// MaxQueryLength rejects longer queries (in runes). Zero disables the check.
	MaxQueryLength int
	Logger         logging.Logger
}

// Dispatcher is the workflow entry node. It validates the request, reduces a
// conversation history to one query and broadcasts that query unchanged to
// every branch.
type Dispatcher struct {
	BaseAgent
	fanout *ParallelAgent
	opts   DispatcherOptions
}

// NewDispatcher creates a dispatcher over fanout.
func NewDispatcher(fanout *ParallelAgent, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Dispatcher{BaseAgent: NewBaseAgent("Dispatcher"), fanout: fanout, opts: opts}
}

// BranchCount reports how many branches every dispatch reaches.
func (d *Dispatcher) BranchCount() int { return len(d.fanout.children) }

// Prepare validates req and returns the query to broadcast. A ValidationError
// is the only failure; it means there is nothing to fan out.
func (d *Dispatcher) Prepare(req core.Request) (core.Query, error) {
	if d.BranchCount() == 0 {
		return core.Query{}, core.ErrNoBranches
	}

	text := req.Query
	if len(req.History) > 0 {
		text = ExtractQuery(req.History)
	}
	text = strings.TrimSpace(text)

	if text == "" {
		return core.Query{}, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if d.opts.MaxQueryLength > 0 && utf8.RuneCountInString(text) > d.opts.MaxQueryLength {
		return core.Query{}, &core.ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("exceeds %d characters", d.opts.MaxQueryLength),
		}
	}

	var params map[string]any
	if len(req.Params) > 0 {
		params = make(map[string]any, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
	}

	return core.Query{Text: text, SessionID: req.SessionID, Params: params}, nil
}

// Dispatch broadcasts q to all branches and blocks until every one has
// produced an envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, q core.Query) []core.BranchEnvelope {
	d.opts.Logger.Debug("Dispatching query", "branches", d.BranchCount(), "session_id", q.SessionID)
	return d.fanout.Run(ctx, q)
}

// ExtractQuery reduces a conversation history to the text of its most recent
// turn. Only the last element is considered:
//
//  1. a string is used as is;
//  2. an object with a string "text" field yields that field;
//  3. a value implementing interface{ Text() string } yields Text();
//  4. anything else is rendered as JSON (or with %v if it cannot be encoded).
func ExtractQuery(history []any) string {
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]

	switch v := last.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
	case interface{ Text() string }:
		return v.Text()
	}

	b, err := json.Marshal(last)
	if err != nil {
		return fmt.Sprintf("%v", last)
	}
	return string(b)
}
