package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// Compile-time assertion.
var _ core.SessionStore = (*Store)(nil)

// Op names a store operation for observers.
type Op string

const (
	OpLoad   Op = "load"
	OpCreate Op = "create"
	OpSave   Op = "save"
)

// StoreOptions configure a Store.
type StoreOptions struct {
	Logger logging.Logger
	// Observer is called after every operation with its outcome.
	Observer func(backend core.BackendKind, op Op, dur time.Duration, err error)
}

// Store is the best-effort core.SessionStore over a Backend.
type Store struct {
	backend   Backend
	opts      StoreOptions
	closeOnce sync.Once
	closeErr  error
}

// NewStore wraps backend.
func NewStore(backend Backend, optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Store{backend: backend, opts: opts}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// GetOrCreate loads the session or returns a fresh one. It never fails:
// not-found and backend errors both yield an empty session, the latter
// logged as a *core.PersistenceError.
func (s *Store) GetOrCreate(ctx context.Context, sessionID string) *core.Session {
	kind := s.backend.Kind()
	start := time.Now()
	state, err := s.backend.Load(ctx, sessionID)
	s.observe(OpLoad, start, err)

	switch {
	case err == nil:
		sess := core.NewSession(sessionID, kind)
		sess.State = state
		sess.Fresh = false
		return sess
	case errors.Is(err, core.ErrSessionNotFound):
		s.opts.Logger.Debug("Session not found, creating new", "session_id", sessionID, "backend", kind)
	default:
		perr := &core.PersistenceError{Op: string(OpLoad), SessionID: sessionID, Err: err}
		s.opts.Logger.Warn("Session load failed, starting fresh session", "session_id", sessionID, "backend", kind, "error", perr)
	}
	s.observe(OpCreate, time.Now(), nil)
	return core.NewSession(sessionID, kind)
}

// Save writes state for sessionID. The error is always a
// *core.PersistenceError and has already been logged.
func (s *Store) Save(ctx context.Context, sessionID string, state []byte) error {
	start := time.Now()
	err := s.backend.Store(ctx, sessionID, state)
	s.observe(OpSave, start, err)
	if err != nil {
		perr := &core.PersistenceError{Op: string(OpSave), SessionID: sessionID, Err: err}
		s.opts.Logger.Warn("Session save failed", "session_id", sessionID, "backend", s.backend.Kind(), "error", err)
		return perr
	}
	return nil
}

// Close releases the backend once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.backend.Close()
	})
	return s.closeErr
}

func (s *Store) observe(op Op, start time.Time, err error) {
	if s.opts.Observer == nil {
		return
	}
	if errors.Is(err, core.ErrSessionNotFound) {
		err = nil
	}
	s.opts.Observer(s.backend.Kind(), op, time.Since(start), err)
}
