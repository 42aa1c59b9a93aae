package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// Invoker is the client contract a BranchExecutor drives. *a2a.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, query, sessionID string, params map[string]any) (core.Payload, error)
}

// BranchOptions configure a BranchExecutor. Everything is fixed at construction.
type BranchOptions struct {
	// DisplayName is used in error envelopes. Defaults to the branch name.
	DisplayName string
	// Params are routing parameters sent on every invoke. Query params with
	// the same key take precedence.
	Params map[string]any
	// Timeout bounds each attempt. Zero leaves the client's own timeout in charge.
	Timeout time.Duration
	// Retries is the number of additional attempts after a failure.
	Retries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	Logger       logging.Logger
	// Observer is told about every completed execution.
	Observer func(branch string, dur time.Duration, failed bool)
}

// BranchExecutor adapts one Invoker into a workflow branch. It never returns
// an error: every failure, including a panic in the client, becomes an
// error envelope.
type BranchExecutor struct {
	BaseAgent
	client Invoker
	opts   BranchOptions
}

// NewBranchExecutor creates a branch named name (the envelope source tag).
func NewBranchExecutor(name string, client Invoker, optFns ...func(o *BranchOptions)) *BranchExecutor {
	opts := BranchOptions{
		DisplayName:  name,
		RetryBackoff: 200 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	params := make(map[string]any, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}
	opts.Params = params

	b := &BranchExecutor{BaseAgent: NewBaseAgent(name), client: client, opts: opts}
	b.SetDescription(fmt.Sprintf("Branch %s", opts.DisplayName))
	return b
}

// Params returns a copy of the construction-time routing parameters.
func (b *BranchExecutor) Params() map[string]any {
	out := make(map[string]any, len(b.opts.Params))
	for k, v := range b.opts.Params {
		out[k] = v
	}
	return out
}

// Execute invokes the remote service and wraps the outcome in an envelope.
func (b *BranchExecutor) Execute(ctx context.Context, q core.Query) (env core.BranchEnvelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			env = core.ErrorEnvelope(b.Name(), b.failureMessage(fmt.Errorf("panic: %v", r)))
		}
		dur := time.Since(start)
		b.logCall(dur, env)
		if b.opts.Observer != nil {
			b.opts.Observer(b.Name(), dur, env.Failed())
		}
	}()

	params := b.Params()
	for k, v := range q.Params {
		params[k] = v
	}

	var lastErr error
	for attempt := 0; attempt <= b.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*b.opts.RetryBackoff); err != nil {
				lastErr = err
				break
			}
			b.opts.Logger.Debug("Retrying branch", "branch", b.Name(), "attempt", attempt)
		}

		payload, err := b.invokeOnce(ctx, q, params)
		if err == nil {
			return core.NewEnvelope(b.Name(), payload)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return core.ErrorEnvelope(b.Name(), b.failureMessage(lastErr))
}

func (b *BranchExecutor) logCall(dur time.Duration, env core.BranchEnvelope) {
	var err error
	if env.Failed() {
		err = errors.New(env.Error)
	}
	if cl, ok := b.opts.Logger.(*logging.ContextLogger); ok {
		cl.LogBranchCall(b.Name(), dur, err)
		return
	}
	if err != nil {
		b.opts.Logger.Warn("Branch call failed", "branch", b.Name(), "duration", dur, "error", err)
		return
	}
	b.opts.Logger.Info("Branch call completed", "branch", b.Name(), "duration", dur)
}

func (b *BranchExecutor) invokeOnce(ctx context.Context, q core.Query, params map[string]any) (core.Payload, error) {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}
	return b.client.Invoke(ctx, q.Text, q.SessionID, params)
}

func (b *BranchExecutor) failureMessage(err error) string {
	return fmt.Sprintf("Error communicating with %s: %v", b.opts.DisplayName, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
