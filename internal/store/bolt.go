package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var cacheBucket = []byte("http_cache")

// BoltStore is a single-file embedded cache backend. Entries are JSON records keyed by
// canonical key.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltStore opens (creating if needed) the database file at path.
func OpenBoltStore(path string, opts ...Option) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt cache path is empty")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	o := applyOptions(opts)
	return &BoltStore{db: db, now: o.now}, nil
}

// Get returns the live entry for key and counts the hit in the same transaction.
// Expired entries are deleted.
func (s *BoltStore) Get(_ context.Context, key string) (elevation.CacheEntry, bool, error) {
	var (
		entry elevation.CacheEntry
		found bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode cache record: %w", err)
		}
		if entry.ExpiredAt(s.now()) {
			return b.Delete([]byte(key))
		}
		entry.HitCount++
		found = true
		return putRecord(b, entry)
	})
	if err != nil {
		return elevation.CacheEntry{}, false, err
	}
	if !found {
		return elevation.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *BoltStore) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := newEntry(key, payload, ttl, s.now())
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(cacheBucket), entry)
	})
}

func putRecord(b *bolt.Bucket, entry elevation.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	return b.Put([]byte(entry.Key), raw)
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Delete([]byte(key))
	})
}

// InvalidateOlderThan removes entries stored before now-age. Keys are collected first;
// a bucket must not be modified while iterating it.
func (s *BoltStore) InvalidateOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry elevation.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil || entry.StoredAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltStore) Stats(_ context.Context) (elevation.CacheStats, error) {
	var stats elevation.CacheStats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).ForEach(func(_, v []byte) error {
			var entry elevation.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode cache record: %w", err)
			}
			stats.Entries++
			stats.TotalHits += entry.HitCount
			return nil
		})
	})
	return stats, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
