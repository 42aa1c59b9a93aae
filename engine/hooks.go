package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bcgov/nr-ai-form/logging"
)

// Transition describes one phase change of a workflow run.
type Transition struct {
	RunID     string
	SessionID string
	From      Phase
	To        Phase
	At        time.Time
	// Elapsed is the time since the run started.
	Elapsed time.Duration
	// Err is set on the transition into PhaseFailed.
	Err error
}

// Hook observes workflow phase transitions. Hooks run synchronously on the
// run's goroutine and cannot alter its outcome; they should be fast.
type Hook interface {
	OnTransition(ctx context.Context, t Transition)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, t Transition)

// OnTransition implements Hook.
func (f HookFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

// HookManager fans transitions out to registered hooks in registration
// order. It is safe for concurrent use.
type HookManager struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewHookManager creates a manager with the given hooks.
func NewHookManager(hooks ...Hook) *HookManager {
	return &HookManager{hooks: append([]Hook(nil), hooks...)}
}

// Register adds a hook.
func (m *HookManager) Register(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Fire delivers t to every hook.
func (m *HookManager) Fire(ctx context.Context, t Transition) {
	m.mu.RLock()
	hooks := m.hooks
	m.mu.RUnlock()
	for _, h := range hooks {
		h.OnTransition(ctx, t)
	}
}

// LoggingHook logs every transition at debug level and failures at warn.
func LoggingHook(logger logging.Logger) Hook {
	logger = logging.OrNoOp(logger)
	return HookFunc(func(_ context.Context, t Transition) {
		if t.To == PhaseFailed {
			logger.Warn("Workflow run failed", "run_id", t.RunID, "session_id", t.SessionID, "from", t.From, "error", t.Err)
			return
		}
		logger.Debug("Workflow phase", "run_id", t.RunID, "session_id", t.SessionID, "from", t.From, "to", t.To, "elapsed", t.Elapsed)
	})
}
