package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backendFactory func(t *testing.T, clock *fakeClock) elevation.CacheStore

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock *fakeClock) elevation.CacheStore {
			return NewMemoryStore(0, WithClock(clock.Now))
		},
		"bolt": func(t *testing.T, clock *fakeClock) elevation.CacheStore {
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "cache.db"), WithClock(clock.Now))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T, clock *fakeClock) elevation.CacheStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStore(client, WithClock(clock.Now))
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestCacheStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("miss", func(t *testing.T) {
				s := factory(t, newFakeClock())
				_, ok, err := s.Get(context.Background(), "absent")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("round trip counts hits", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				s := factory(t, clock)

				require.NoError(t, s.Put(ctx, "k", []byte(`{"v":1}`), time.Hour))

				got, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "k", got.Key)
				assert.Equal(t, []byte(`{"v":1}`), got.Payload)
				assert.Equal(t, elevation.PayloadHash([]byte(`{"v":1}`)), got.ContentHash)
				assert.True(t, clock.Now().Equal(got.StoredAt))
				assert.Equal(t, time.Hour, got.TTL)
				assert.Equal(t, int64(1), got.HitCount)

				got, _, err = s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, int64(2), got.HitCount)
			})

			t.Run("last write wins", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t, newFakeClock())

				require.NoError(t, s.Put(ctx, "k", []byte("first"), time.Hour))
				_, _, err := s.Get(ctx, "k")
				require.NoError(t, err)
				require.NoError(t, s.Put(ctx, "k", []byte("second"), time.Hour))

				got, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, []byte("second"), got.Payload)
				assert.Equal(t, int64(1), got.HitCount)
			})

			t.Run("expires exactly at ttl", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				s := factory(t, clock)

				require.NoError(t, s.Put(ctx, "k", []byte("v"), 10*time.Second))

				clock.Advance(10*time.Second - time.Nanosecond)
				_, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.True(t, ok)

				clock.Advance(time.Nanosecond)
				_, ok, err = s.Get(ctx, "k")
				require.NoError(t, err)
				assert.False(t, ok)

				stats, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Zero(t, stats.Entries)
			})

			t.Run("zero ttl never expires", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				s := factory(t, clock)

				require.NoError(t, s.Put(ctx, "k", []byte("v"), 0))
				clock.Advance(10000 * time.Hour)

				_, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("delete", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t, newFakeClock())

				require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Hour))
				require.NoError(t, s.Delete(ctx, "k"))
				require.NoError(t, s.Delete(ctx, "never-stored"))

				_, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("invalidate older than", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				s := factory(t, clock)

				require.NoError(t, s.Put(ctx, "old", []byte("a"), 0))
				clock.Advance(2 * time.Hour)
				require.NoError(t, s.Put(ctx, "new", []byte("b"), 0))

				n, err := s.InvalidateOlderThan(ctx, time.Hour)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				_, ok, err := s.Get(ctx, "old")
				require.NoError(t, err)
				assert.False(t, ok)
				_, ok, err = s.Get(ctx, "new")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("stats", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t, newFakeClock())

				require.NoError(t, s.Put(ctx, "a", []byte("a"), time.Hour))
				require.NoError(t, s.Put(ctx, "b", []byte("b"), time.Hour))
				for i := 0; i < 3; i++ {
					_, _, err := s.Get(ctx, "a")
					require.NoError(t, err)
				}

				stats, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, elevation.CacheStats{Entries: 2, TotalHits: 3}, stats)
			})
		})
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(2, WithClock(clock.Now))

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, k, []byte(k), 0))
		clock.Advance(time.Second)
	}

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.Put(ctx, "k", []byte("abc"), 0))

	got, _, _ := s.Get(ctx, "k")
	got.Payload[0] = 'X'

	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again.Payload)
}

func TestRedisStoreSetsServerExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()

	require.NoError(t, s.Put(ctx, "ttl", []byte("v"), time.Minute))
	require.NoError(t, s.Put(ctx, "forever", []byte("v"), 0))

	assert.Equal(t, time.Minute, mr.TTL(redisKeyPrefix+"ttl"))
	assert.Zero(t, mr.TTL(redisKeyPrefix+"forever"))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists(redisKeyPrefix+"ttl"))
}

func TestRedisStoreDropsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()

	mr.HSet(redisKeyPrefix+"bad", fieldHits, "4")

	_, ok, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(redisKeyPrefix+"bad"))
}

func TestRedisHitCountDoesNotRecreateExpiredEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := countHitScript.Run(ctx, client, []string{redisKeyPrefix + "gone"}, fieldPayload, fieldHits).Int64()
	require.ErrorIs(t, err, redis.Nil)
	assert.False(t, mr.Exists(redisKeyPrefix+"gone"))

	s := NewRedisStore(client)
	require.NoError(t, s.Put(ctx, "live", []byte("v"), time.Minute))
	hits, err := countHitScript.Run(ctx, client, []string{redisKeyPrefix + "live"}, fieldPayload, fieldHits).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, time.Minute, mr.TTL(redisKeyPrefix+"live"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{Backend: BackendBolt, BoltPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Config{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Backend: "sqlite"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: BackendRedis})
	assert.Error(t, err)
}
