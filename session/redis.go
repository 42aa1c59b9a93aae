package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/bcgov/nr-ai-form/core"
)

var _ Backend = (*RedisBackend)(nil)

const (
	// DefaultRedisPrefix namespaces session keys.
	DefaultRedisPrefix = "nr-ai-form:thread:"
	// DefaultTTL bounds how long an idle session lives in the cache.
	DefaultTTL = time.Hour
)

// RedisOptions configure a RedisBackend.
type RedisOptions struct {
	// TTL is refreshed on every save. Zero disables expiry.
	TTL    time.Duration
	Prefix string
	// TLS enables TLS to the server (managed caches require it).
	TLS bool
	// DialTimeout bounds connecting; loads against an unreachable server
	// fail after roughly this long.
	DialTimeout time.Duration
}

// RedisBackend is the TTL cache Backend. Each session is one string key
// holding the state blob.
type RedisBackend struct {
	client *backend.Client
	opts   RedisOptions
}

func defaultRedisOptions() RedisOptions {
	return RedisOptions{
		TTL:         DefaultTTL,
		Prefix:      DefaultRedisPrefix,
		DialTimeout: 5 * time.Second,
	}
}

// NewRedisBackend creates a backend with its own client.
func NewRedisBackend(addr, password string, db int, optFns ...func(o *RedisOptions)) *RedisBackend {
	opts := defaultRedisOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := &backend.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	}
	if opts.TLS {
		clientOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &RedisBackend{client: backend.NewClient(clientOpts), opts: opts}
}

// NewRedisBackendFromClient creates a backend from an existing client.
func NewRedisBackendFromClient(client *backend.Client, optFns ...func(o *RedisOptions)) *RedisBackend {
	opts := defaultRedisOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisBackend{client: client, opts: opts}
}

func (r *RedisBackend) key(sessionID string) string {
	return r.opts.Prefix + sessionID
}

// Kind implements Backend.
func (r *RedisBackend) Kind() core.BackendKind { return core.BackendRedis }

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return val, nil
}

// Store implements Backend. SET replaces the value atomically.
func (r *RedisBackend) Store(ctx context.Context, sessionID string, state []byte) error {
	if err := r.client.Set(ctx, r.key(sessionID), state, r.opts.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
