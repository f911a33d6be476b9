// Package store provides the cache backends behind elevation.CacheStore.
package store

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var log = logging.Logger("store")

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

type options struct {
	now func() time.Time
}

// Option configures a backend.
type Option func(*options)

// WithClock sets the clock used for stored-at stamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func newEntry(key string, payload []byte, ttl time.Duration, now time.Time) elevation.CacheEntry {
	if ttl < 0 {
		ttl = 0
	}
	return elevation.CacheEntry{
		Key:         key,
		Payload:     append([]byte(nil), payload...),
		ContentHash: elevation.PayloadHash(payload),
		StoredAt:    now.UTC(),
		TTL:         ttl,
	}
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	MaxEntries  int
	BoltPath    string
	RedisURL    string
	PostgresDSN string
}

// Open builds the configured backend. The none backend yields a nil store, which
// disables caching.
func Open(ctx context.Context, cfg Config, opts ...Option) (elevation.CacheStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(cfg.MaxEntries, opts...), nil
	case BackendBolt:
		return OpenBoltStore(cfg.BoltPath, opts...)
	case BackendRedis:
		client, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, opts...), nil
	case BackendPostgres:
		db, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(db, opts...)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case BackendNone:
		log.Infow("cache disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
