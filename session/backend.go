package session

import (
	"context"

	"github.com/bcgov/nr-ai-form/core"
)

// Backend stores opaque session blobs by id. Load returns
// core.ErrSessionNotFound for unknown or expired ids. Store replaces the
// whole blob or fails leaving the previous value intact.
type Backend interface {
	Kind() core.BackendKind
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Store(ctx context.Context, sessionID string, state []byte) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
