package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
	"golang.org/x/sync/errgroup"
)

// ParallelAgent runs every child branch concurrently and joins them behind a
// barrier. One result slot per child is allocated before any goroutine
// starts, so the joined slice always has exactly one envelope per child.
//
// A child that exceeds the timeout, panics or ignores cancellation is
// represented by an error envelope; the barrier never waits past the timeout.
type ParallelAgent struct {
	BaseAgent
	children []Branch
	timeout  time.Duration
	logger   logging.Logger
}

// NewParallelAgent creates a fan-out over children. A zero timeout leaves
// each child bounded only by its own timeouts and the caller's context.
func NewParallelAgent(name string, timeout time.Duration, children ...Branch) *ParallelAgent {
	return &ParallelAgent{
		BaseAgent: NewBaseAgent(name),
		children:  children,
		timeout:   timeout,
		logger:    logging.NoOpLogger{},
	}
}

// SetLogger replaces the logger used for branch diagnostics.
func (p *ParallelAgent) SetLogger(l logging.Logger) { p.logger = logging.OrNoOp(l) }

// Branches returns a copy of the registered children.
func (p *ParallelAgent) Branches() []Branch {
	out := make([]Branch, len(p.children))
	copy(out, p.children)
	return out
}

// Run broadcasts q to every child and returns once all of them have produced
// an envelope. The returned order follows registration, but callers must
// identify envelopes by source.
func (p *ParallelAgent) Run(ctx context.Context, q core.Query) []core.BranchEnvelope {
	slots := make([]core.BranchEnvelope, len(p.children))

	var g errgroup.Group
	for i, child := range p.children {
		g.Go(func() error {
			slots[i] = p.runChild(ctx, child, q)
			return nil
		})
	}
	_ = g.Wait()

	return slots
}

func (p *ParallelAgent) runChild(ctx context.Context, child Branch, q core.Query) core.BranchEnvelope {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan core.BranchEnvelope, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- core.ErrorEnvelope(child.Name(), fmt.Sprintf("branch panicked: %v", r))
			}
		}()
		done <- child.Execute(ctx, q)
	}()

	select {
	case env := <-done:
		if env.Source == "" {
			env.Source = child.Name()
		}
		return env
	case <-ctx.Done():
		p.logger.Warn("Branch abandoned at barrier", "branch", buildBranchPath(p.Name(), child.Name()), "error", ctx.Err())
		return core.ErrorEnvelope(child.Name(), fmt.Sprintf("branch timed out: %v", ctx.Err()))
	}
}

// buildBranchPath composes a hierarchical branch identifier for diagnostics.
// If parent is empty it returns child; otherwise parent + "." + child.
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}
