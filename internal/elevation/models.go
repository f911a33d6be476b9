package elevation

import (
	"fmt"
	"time"
)

// Status is the normalized outcome of a single provider attempt.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoData        Status = "no_data"
	StatusProviderError Status = "provider_error"
	StatusTimeout       Status = "timeout"
	StatusRateLimited   Status = "rate_limited"
)

// CacheStatus records how the cache took part in producing an observation.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// Classification is the coverage class used to pick provider ordering.
type Classification string

const (
	ClassDomestic      Classification = "domestic"
	ClassInternational Classification = "international"
	ClassOcean         Classification = "ocean"
)

// Provider names of the closed provider set.
const (
	ProviderUSGS         = "usgs"
	ProviderGoogle       = "google"
	ProviderOpenTopoData = "open_topo_data"
	ProviderOSM          = "osm"
)

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// CoordinateRequest describes one elevation lookup.
// Providers, when non-empty, restricts the fallback chain to the named providers in that order.
type CoordinateRequest struct {
	Latitude       float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Providers      []string   `json:"providers,omitempty" validate:"dive,required"`
	TimeoutSeconds float64    `json:"timeoutSeconds" validate:"gt=0,lte=3600"`
}

// Coordinate returns the request's coordinate pair.
func (r CoordinateRequest) Coordinate() Coordinate {
	return Coordinate{Lat: r.Latitude, Lon: r.Longitude}
}

// MaxTimeoutSeconds bounds CoordinateRequest.TimeoutSeconds.
const MaxTimeoutSeconds = 3600

// Timeout converts TimeoutSeconds to a duration, saturating at MaxTimeoutSeconds.
func (r CoordinateRequest) Timeout() time.Duration {
	if r.TimeoutSeconds > MaxTimeoutSeconds {
		return MaxTimeoutSeconds * time.Second
	}
	return time.Duration(r.TimeoutSeconds * float64(time.Second))
}

// FetchOptions controls cache usage and the stop policy of a fetch.
type FetchOptions struct {
	ReadFromCache     bool `json:"readFromCache"`
	WriteToCache      bool `json:"writeToCache"`
	QueryAllProviders bool `json:"queryAllProviders"`
}

// DefaultFetchOptions reads and writes the cache and stops at the first success.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{ReadFromCache: true, WriteToCache: true}
}

// Observation is the uniform, provenance-bearing record of one provider attempt.
// Observations are values; the orchestrator only ever appends new ones.
type Observation struct {
	ID                  string        `json:"id"`
	Provider            string        `json:"provider"`
	Endpoint            string        `json:"endpoint"`
	RequestedCoordinate Coordinate    `json:"requestedCoordinate"`
	Status              Status        `json:"status"`
	ValueMeters         *float64      `json:"valueMeters,omitempty"` // set iff Status is ok
	VerticalDatum       string        `json:"verticalDatum,omitempty"`
	ResolutionMeters    *float64      `json:"resolutionMeters,omitempty"`
	RawPayloadHash      string        `json:"rawPayloadHash,omitempty"`
	FetchedAt           time.Time     `json:"fetchedAt"` // always UTC
	Elapsed             time.Duration `json:"elapsed"`
	CacheStatus         CacheStatus   `json:"cacheStatus"`
	CacheKey            string        `json:"cacheKey,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// OK reports whether the observation carries a usable elevation.
func (o Observation) OK() bool {
	return o.Status == StatusOK && o.ValueMeters != nil
}

// CacheEntry is a stored exchange as returned by a CacheStore.
type CacheEntry struct {
	Key         string        `json:"key"`
	Payload     []byte        `json:"payload"`
	ContentHash string        `json:"contentHash"`
	StoredAt    time.Time     `json:"storedAt"`
	TTL         time.Duration `json:"ttl"`
	HitCount    int64         `json:"hitCount"`
}

// ExpiredAt reports whether the entry is logically deleted at now.
// A zero TTL never expires.
func (e CacheEntry) ExpiredAt(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.StoredAt.Add(e.TTL))
}

// CacheStats summarizes a cache backend.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"totalHits"`
}
