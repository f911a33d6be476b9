package elevation

import (
	"context"
	"time"
)

// ProviderReading is a provider's decoded response before normalization into an Observation.
// Payload always holds the exact bytes received, when any were received.
type ProviderReading struct {
	ElevationMeters  float64
	VerticalDatum    string
	ResolutionMeters float64 // 0 when the provider does not report one
	Payload          []byte
	HTTPStatus       int
}

// Provider abstracts an elevation data source (e.g. USGS EPQS, Google, Open Topo Data).
//
// Fetch returns a nil error only when the reading holds a usable elevation. Failures are
// signalled with ErrNoData, ErrRateLimited, a context deadline, or any other error, and the
// reading still carries whatever payload was received.
//
// Decode interprets a payload previously received from this provider, so cached exchanges
// can be turned back into readings without contacting the network.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, c Coordinate) (ProviderReading, error)
	Decode(payload []byte) (ProviderReading, error)
}

// CacheStore is the contract every cache backend satisfies.
//
// Get must treat an expired entry as absent. Put overwrites any existing entry for the key;
// concurrent writers of the same key are allowed because keys are pure functions of request
// content.
type CacheStore interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
	Close() error
}
