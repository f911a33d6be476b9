package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const (
	createCacheTableSQL = `CREATE TABLE IF NOT EXISTS http_cache (
		key          TEXT PRIMARY KEY,
		payload      BYTEA NOT NULL,
		content_hash TEXT NOT NULL,
		stored_at    TIMESTAMPTZ NOT NULL,
		ttl_ms       BIGINT NOT NULL DEFAULT 0,
		hit_count    BIGINT NOT NULL DEFAULT 0
	)`
	createStoredAtIndexSQL = `CREATE INDEX IF NOT EXISTS http_cache_stored_at_idx ON http_cache (stored_at)`

	selectCacheEntrySQL = `SELECT payload, content_hash, stored_at, ttl_ms, hit_count FROM http_cache WHERE key = $1`
	touchCacheEntrySQL  = `UPDATE http_cache SET hit_count = hit_count + 1 WHERE key = $1 RETURNING hit_count`
	deleteCacheEntrySQL = `DELETE FROM http_cache WHERE key = $1`
	upsertCacheEntrySQL = `INSERT INTO http_cache (key, payload, content_hash, stored_at, ttl_ms, hit_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			content_hash = EXCLUDED.content_hash,
			stored_at = EXCLUDED.stored_at,
			ttl_ms = EXCLUDED.ttl_ms,
			hit_count = 0`
	purgeCacheSQL = `DELETE FROM http_cache WHERE stored_at < $1`
	statsCacheSQL = `SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM http_cache`
)

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// PostgresStore persists cache entries in the http_cache table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore constructs a PostgreSQL-backed cache. The store owns db.
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	o := applyOptions(opts)
	return &PostgresStore{db: db, now: o.now}
}

// EnsureSchema creates the cache table and its index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createCacheTableSQL, createStoredAtIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure cache schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (elevation.CacheEntry, bool, error) {
	entry := elevation.CacheEntry{Key: key}
	var ttlMS int64
	err := s.db.QueryRowContext(ctx, selectCacheEntrySQL, key).
		Scan(&entry.Payload, &entry.ContentHash, &entry.StoredAt, &ttlMS, &entry.HitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return elevation.CacheEntry{}, false, nil
	}
	if err != nil {
		return elevation.CacheEntry{}, false, fmt.Errorf("select cache entry: %w", err)
	}
	entry.StoredAt = entry.StoredAt.UTC()
	entry.TTL = time.Duration(ttlMS) * time.Millisecond

	if entry.ExpiredAt(s.now()) {
		if _, err := s.db.ExecContext(ctx, deleteCacheEntrySQL, key); err != nil {
			log.Warnw("failed to drop expired cache row", "key", key, "err", err)
		}
		return elevation.CacheEntry{}, false, nil
	}

	err = s.db.QueryRowContext(ctx, touchCacheEntrySQL, key).Scan(&entry.HitCount)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted concurrently.
		return elevation.CacheEntry{}, false, nil
	}
	if err != nil {
		return elevation.CacheEntry{}, false, fmt.Errorf("count cache hit: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := newEntry(key, payload, ttl, s.now())
	_, err := s.db.ExecContext(ctx, upsertCacheEntrySQL,
		entry.Key, entry.Payload, entry.ContentHash, entry.StoredAt, entry.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteCacheEntrySQL, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, purgeCacheSQL, s.now().Add(-age).UTC())
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cache rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (elevation.CacheStats, error) {
	var stats elevation.CacheStats
	if err := s.db.QueryRowContext(ctx, statsCacheSQL).Scan(&stats.Entries, &stats.TotalHits); err != nil {
		return elevation.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
