package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/nr-ai-form/core"
)

// RunBackendContract checks the behaviour every Backend must share.
func RunBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	sessionID := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Store and Load", func(t *testing.T) {
		thread := &core.Thread{}
		thread.Append(core.Turn{Query: "hello", Response: []byte(`"hi"`), At: time.Unix(1700000000, 0).UTC()}, 0)
		state, err := thread.Encode()
		require.NoError(t, err)

		require.NoError(t, b.Store(ctx, sessionID, state))

		loaded, err := b.Load(ctx, sessionID)
		require.NoError(t, err)
		got, err := core.DecodeThread(loaded)
		require.NoError(t, err)
		assert.Equal(t, thread.Turns, got.Turns)
	})

	t.Run("Store replaces", func(t *testing.T) {
		require.NoError(t, b.Store(ctx, sessionID, []byte(`{"turns":[]}`)))
		loaded, err := b.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"turns":[]}`, string(loaded))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := b.Load(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Store(ctx, sessionID, []byte(`{}`)))
		require.NoError(t, b.Delete(ctx, sessionID))
		_, err := b.Load(ctx, sessionID)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("Through Store", func(t *testing.T) {
		store := NewStore(b)
		id := sessionID + "-store"

		fresh := store.GetOrCreate(ctx, id)
		assert.True(t, fresh.Fresh)
		assert.Empty(t, fresh.State)
		assert.Equal(t, b.Kind(), fresh.Backend)

		require.NoError(t, store.Save(ctx, id, []byte(`{"turns":[{"query":"q","at":"2024-01-01T00:00:00Z"}]}`)))
		loaded := store.GetOrCreate(ctx, id)
		assert.False(t, loaded.Fresh)
		thread, err := core.DecodeThread(loaded.State)
		require.NoError(t, err)
		require.Len(t, thread.Turns, 1)
		assert.Equal(t, "q", thread.Turns[0].Query)
	})
}
