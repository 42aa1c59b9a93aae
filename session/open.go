package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// RedisConfig locates the TTL cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	SSL      bool
	DB       int
	Prefix   string
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DocumentConfig locates the durable store.
type DocumentConfig struct {
	Path       string
	Database   string
	Collection string
}

// Config selects and configures a backend.
type Config struct {
	Backend  core.BackendKind
	TTL      time.Duration
	Redis    RedisConfig
	Document DocumentConfig
}

// Open builds the configured backend and wraps it in a Store. An
// unreachable Redis server is logged, not fatal: the store degrades to fresh
// sessions until it comes back.
func Open(ctx context.Context, cfg Config, optFns ...func(o *StoreOptions)) (*Store, error) {
	opts := StoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	var b Backend
	switch cfg.Backend {
	case "", core.BackendMemory:
		b = NewMemoryBackend(cfg.TTL)
	case core.BackendRedis:
		rb := NewRedisBackend(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, func(o *RedisOptions) {
			o.TTL = cfg.TTL
			o.TLS = cfg.Redis.SSL
			if cfg.Redis.Prefix != "" {
				o.Prefix = cfg.Redis.Prefix
			}
		})
		if err := rb.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable at startup, sessions will start fresh until it recovers", "addr", cfg.Redis.Addr(), "error", err)
		}
		b = rb
	case core.BackendDocument:
		db, err := NewDocumentBackend(ctx, cfg.Document.Path, func(o *DocumentOptions) {
			if cfg.Document.Database != "" {
				o.Database = cfg.Document.Database
			}
			if cfg.Document.Collection != "" {
				o.Collection = cfg.Document.Collection
			}
			o.Logger = logger
		})
		if err != nil {
			return nil, fmt.Errorf("opening document backend: %w", err)
		}
		b = db
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}

	logger.Info("Session store ready", "backend", b.Kind())
	return NewStore(b, optFns...), nil
}
