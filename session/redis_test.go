package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/nr-ai-form/core"
)

func newMiniredisBackend(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	rb := NewRedisBackendFromClient(client, func(o *RedisOptions) { o.TTL = ttl })
	t.Cleanup(func() { _ = rb.Close() })
	return mr, rb
}

func TestRedisBackend_Contract(t *testing.T) {
	_, rb := newMiniredisBackend(t, time.Hour)
	RunBackendContract(t, rb)
}

func TestRedisBackend_TTL(t *testing.T) {
	mr, rb := newMiniredisBackend(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, rb.Store(ctx, "s1", []byte(`{"turns":[]}`)))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"s1"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultRedisPrefix+"s1"))

	mr.FastForward(59 * time.Minute)
	_, err := rb.Load(ctx, "s1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = rb.Load(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRedisBackend_SaveRefreshesTTL(t *testing.T) {
	mr, rb := newMiniredisBackend(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, rb.Store(ctx, "s1", []byte("a")))
	mr.FastForward(50 * time.Minute)
	require.NoError(t, rb.Store(ctx, "s1", []byte("b")))
	mr.FastForward(50 * time.Minute)

	got, err := rb.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

func TestRedisBackend_UnreachableServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	rb := NewRedisBackend(addr, "", 0, func(o *RedisOptions) { o.DialTimeout = 200 * time.Millisecond })
	store := NewStore(rb)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := store.GetOrCreate(ctx, "abc")
	require.NotNil(t, sess)
	assert.True(t, sess.Fresh)
	assert.Equal(t, core.BackendRedis, sess.Backend)

	var perr *core.PersistenceError
	assert.ErrorAs(t, store.Save(ctx, "abc", []byte("{}")), &perr)
}
