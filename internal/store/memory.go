package store

import (
	"context"
	"sync"
	"time"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

// MemoryStore is a concurrency-safe in-memory cache backend.
type MemoryStore struct {
	mu sync.RWMutex

	// key: canonical key
	data map[string]*elevation.CacheEntry

	// max number of entries; the oldest entry is evicted past it
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore. If maxEntries is <= 0, it is treated as unlimited.
func NewMemoryStore(maxEntries int, opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		data:       make(map[string]*elevation.CacheEntry),
		maxEntries: maxEntries,
		now:        o.now,
	}
}

// Get returns the live entry for key and counts the hit. Expired entries are deleted.
func (s *MemoryStore) Get(_ context.Context, key string) (elevation.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return elevation.CacheEntry{}, false, nil
	}
	if entry.ExpiredAt(s.now()) {
		delete(s.data, key)
		return elevation.CacheEntry{}, false, nil
	}
	entry.HitCount++
	return copyEntry(entry), true, nil
}

// Put stores payload under key, replacing any existing entry.
func (s *MemoryStore) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := newEntry(key, payload, ttl, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry

	// Enforce retention by count.
	for s.maxEntries > 0 && len(s.data) > s.maxEntries {
		s.evictOldest()
	}
	return nil
}

func (s *MemoryStore) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range s.data {
		if oldestKey == "" || e.StoredAt.Before(oldest) {
			oldestKey, oldest = k, e.StoredAt
		}
	}
	delete(s.data, oldestKey)
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// InvalidateOlderThan removes entries stored before now-age.
func (s *MemoryStore) InvalidateOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.data {
		if e.StoredAt.Before(cutoff) {
			delete(s.data, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Stats(_ context.Context) (elevation.CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := elevation.CacheStats{Entries: int64(len(s.data))}
	for _, e := range s.data {
		stats.TotalHits += e.HitCount
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyEntry(e *elevation.CacheEntry) elevation.CacheEntry {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	return out
}
