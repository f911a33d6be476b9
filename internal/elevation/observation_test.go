package elevation_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want elevation.Status
	}{
		{nil, elevation.StatusOK},
		{fmt.Errorf("wrapped: %w", elevation.ErrNoData), elevation.StatusNoData},
		{fmt.Errorf("wrapped: %w", elevation.ErrRateLimited), elevation.StatusRateLimited},
		{context.DeadlineExceeded, elevation.StatusTimeout},
		{fmt.Errorf("get: %w", timeoutErr{}), elevation.StatusTimeout},
		{errors.New("boom"), elevation.StatusProviderError},
		{context.Canceled, elevation.StatusProviderError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, elevation.StatusFor(tt.err), "%v", tt.err)
	}
}

func TestBuildObservation(t *testing.T) {
	desc := elevation.ProviderDescriptor{Name: "usgs", Endpoint: "https://usgs.test", VerticalDatum: "NAVD88"}
	fetched := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	payload := []byte(`{"value":1732}`)

	obs := elevation.BuildObservation(desc, request(43.8791, -103.4591), elevation.Attempt{
		Reading:   elevation.ProviderReading{ElevationMeters: 1732, ResolutionMeters: 10, Payload: payload},
		FetchedAt: fetched,
		Elapsed:   250 * time.Millisecond,
		CacheKey:  "abc",
	}, elevation.CacheMiss)

	assert.Equal(t, elevation.StatusOK, obs.Status)
	require.NotNil(t, obs.ValueMeters)
	assert.Equal(t, 1732.0, *obs.ValueMeters)
	require.NotNil(t, obs.ResolutionMeters)
	assert.Equal(t, 10.0, *obs.ResolutionMeters)
	assert.Equal(t, "NAVD88", obs.VerticalDatum)
	assert.Equal(t, "https://usgs.test", obs.Endpoint)
	assert.Equal(t, elevation.PayloadHash(payload), obs.RawPayloadHash)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), obs.FetchedAt)
	assert.Equal(t, 250*time.Millisecond, obs.Elapsed)
	assert.Equal(t, "abc", obs.CacheKey)
	assert.Empty(t, obs.Error)
}

func TestBuildObservationFailure(t *testing.T) {
	desc := elevation.ProviderDescriptor{Name: "osm"}
	obs := elevation.BuildObservation(desc, request(1, 2), elevation.Attempt{
		Reading: elevation.ProviderReading{ElevationMeters: 99, Payload: []byte(`{"results":[]}`)},
		Err:     elevation.ErrNoData,
	}, elevation.CacheBypass)

	assert.Equal(t, elevation.StatusNoData, obs.Status)
	assert.Nil(t, obs.ValueMeters)
	assert.Nil(t, obs.ResolutionMeters)
	assert.NotEmpty(t, obs.RawPayloadHash)
	assert.Equal(t, elevation.ErrNoData.Error(), obs.Error)
	assert.False(t, obs.OK())
}

func TestBuildObservationRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		obs := elevation.BuildObservation(elevation.ProviderDescriptor{Name: "google"}, request(1, 2),
			elevation.Attempt{Reading: elevation.ProviderReading{ElevationMeters: v}}, elevation.CacheMiss)
		assert.Equal(t, elevation.StatusProviderError, obs.Status)
		assert.Nil(t, obs.ValueMeters)
	}
}

func TestPayloadHash(t *testing.T) {
	assert.Empty(t, elevation.PayloadHash(nil))
	assert.Equal(t, elevation.PayloadHash([]byte("a")), elevation.PayloadHash([]byte("a")))
	assert.NotEqual(t, elevation.PayloadHash([]byte("a")), elevation.PayloadHash([]byte("b")))
}

func TestCacheEntryExpiry(t *testing.T) {
	stored := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := elevation.CacheEntry{StoredAt: stored, TTL: time.Minute}

	assert.False(t, e.ExpiredAt(stored.Add(time.Minute-time.Nanosecond)))
	assert.True(t, e.ExpiredAt(stored.Add(time.Minute)))

	e.TTL = 0
	assert.False(t, e.ExpiredAt(stored.Add(1000*time.Hour)))
}

func TestRequestTimeoutSaturates(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, elevation.CoordinateRequest{TimeoutSeconds: 1.5}.Timeout())
	assert.Equal(t, time.Hour, elevation.CoordinateRequest{TimeoutSeconds: elevation.MaxTimeoutSeconds}.Timeout())
	assert.Equal(t, time.Hour, elevation.CoordinateRequest{TimeoutSeconds: 1e11}.Timeout())
}

func TestSummarize(t *testing.T) {
	meters := func(v float64) *float64 { return &v }

	obs := []elevation.Observation{
		{Provider: "google", Status: elevation.StatusTimeout},
		{Provider: "open_topo_data", Status: elevation.StatusOK, ValueMeters: meters(11), ResolutionMeters: meters(30)},
		{Provider: "osm", Status: elevation.StatusOK, ValueMeters: meters(12)},
		{Provider: "usgs", Status: elevation.StatusOK, ValueMeters: meters(10.5), ResolutionMeters: meters(10)},
		{Provider: "late", Status: elevation.StatusOK, ValueMeters: meters(10.4), ResolutionMeters: meters(10)},
	}

	s := elevation.Summarize(obs)
	assert.Equal(t, 5, s.Attempted)
	assert.Equal(t, 4, s.Succeeded)
	assert.Equal(t, map[elevation.Status]int{elevation.StatusTimeout: 1, elevation.StatusOK: 4}, s.ByStatus)
	require.NotNil(t, s.Best)
	assert.Equal(t, "usgs", s.Best.Provider)

	empty := elevation.Summarize(nil)
	assert.Nil(t, empty.Best)
	assert.Zero(t, empty.Attempted)
}
