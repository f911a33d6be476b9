package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const redisKeyPrefix = "elevation:cache:"

// Hash fields of a cached entry.
const (
	fieldPayload     = "payload"
	fieldContentHash = "content_hash"
	fieldStoredAt    = "stored_at"
	fieldTTL         = "ttl"
	fieldHits        = "hits"
)

var errCorruptEntry = errors.New("corrupt cache entry")

// countHitScript increments the hit counter only while the entry still exists, so an
// entry expiring between read and count is not recreated as a bare counter.
var countHitScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
	return false
end
return redis.call("HINCRBY", KEYS[1], ARGV[2], 1)
`)

// DialRedis connects to the server at url and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps each entry in a hash. Entries with a TTL also carry a server-side
// expiry, so Redis reclaims them without a purge.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{client: client, now: o.now}
}

func redisKey(key string) string { return redisKeyPrefix + key }

func (s *RedisStore) Get(ctx context.Context, key string) (elevation.CacheEntry, bool, error) {
	rk := redisKey(key)
	fields, err := s.client.HGetAll(ctx, rk).Result()
	if err != nil {
		return elevation.CacheEntry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return elevation.CacheEntry{}, false, nil
	}

	entry, err := parseRedisEntry(key, fields)
	if err != nil || entry.ExpiredAt(s.now()) {
		if delErr := s.client.Del(ctx, rk).Err(); delErr != nil {
			log.Warnw("failed to drop stale redis entry", "key", key, "err", delErr)
		}
		return elevation.CacheEntry{}, false, nil
	}

	hits, err := countHitScript.Run(ctx, s.client, []string{rk}, fieldPayload, fieldHits).Int64()
	if errors.Is(err, redis.Nil) {
		return elevation.CacheEntry{}, false, nil
	}
	if err != nil {
		return elevation.CacheEntry{}, false, fmt.Errorf("redis count hit %s: %w", key, err)
	}
	entry.HitCount = hits
	return entry, true, nil
}

func parseRedisEntry(key string, fields map[string]string) (elevation.CacheEntry, error) {
	payload, ok := fields[fieldPayload]
	if !ok {
		return elevation.CacheEntry{}, errCorruptEntry
	}
	storedAt, err := strconv.ParseInt(fields[fieldStoredAt], 10, 64)
	if err != nil {
		return elevation.CacheEntry{}, fmt.Errorf("%w: stored_at: %v", errCorruptEntry, err)
	}
	ttl, err := strconv.ParseInt(fields[fieldTTL], 10, 64)
	if err != nil {
		return elevation.CacheEntry{}, fmt.Errorf("%w: ttl: %v", errCorruptEntry, err)
	}
	hits, _ := strconv.ParseInt(fields[fieldHits], 10, 64)

	return elevation.CacheEntry{
		Key:         key,
		Payload:     []byte(payload),
		ContentHash: fields[fieldContentHash],
		StoredAt:    time.Unix(0, storedAt).UTC(),
		TTL:         time.Duration(ttl),
		HitCount:    hits,
	}, nil
}

// Put replaces any existing entry atomically.
func (s *RedisStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := newEntry(key, payload, ttl, s.now())
	rk := redisKey(key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rk)
		pipe.HSet(ctx, rk,
			fieldPayload, entry.Payload,
			fieldContentHash, entry.ContentHash,
			fieldStoredAt, strconv.FormatInt(entry.StoredAt.UnixNano(), 10),
			fieldTTL, strconv.FormatInt(int64(entry.TTL), 10),
			fieldHits, "0",
		)
		if entry.TTL > 0 {
			pipe.PExpire(ctx, rk, entry.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// scan visits every cache key.
func (s *RedisStore) scan(ctx context.Context, fn func(rk string) error) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStore) InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixNano()
	removed := 0
	err := s.scan(ctx, func(rk string) error {
		raw, err := s.client.HGet(ctx, rk, fieldStoredAt).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		storedAt, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil && storedAt >= cutoff {
			return nil
		}
		n, err := s.client.Del(ctx, rk).Result()
		removed += int(n)
		return err
	})
	if err != nil {
		return removed, fmt.Errorf("redis purge: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) Stats(ctx context.Context) (elevation.CacheStats, error) {
	var stats elevation.CacheStats
	err := s.scan(ctx, func(rk string) error {
		raw, err := s.client.HGet(ctx, rk, fieldHits).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		hits, _ := strconv.ParseInt(raw, 10, 64)
		stats.Entries++
		stats.TotalHits += hits
		return nil
	})
	if err != nil {
		return elevation.CacheStats{}, fmt.Errorf("redis stats: %w", err)
	}
	return stats, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
