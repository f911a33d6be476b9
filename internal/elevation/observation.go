package elevation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"net"
	"time"

	"github.com/google/uuid"
)

// Attempt is the raw outcome of calling (or replaying) one provider.
type Attempt struct {
	Reading   ProviderReading
	Err       error
	FetchedAt time.Time
	Elapsed   time.Duration
	CacheKey  string
}

// BuildObservation normalizes an attempt into an Observation. The payload hash is computed
// over the exact bytes received; the value is set only when the status is ok.
func BuildObservation(p ProviderDescriptor, req CoordinateRequest, a Attempt, cs CacheStatus) Observation {
	status := StatusFor(a.Err)
	if status == StatusOK && (math.IsNaN(a.Reading.ElevationMeters) || math.IsInf(a.Reading.ElevationMeters, 0)) {
		status = StatusProviderError
		a.Err = errors.New("provider returned a non-finite elevation")
	}

	obs := Observation{
		ID:                  uuid.NewString(),
		Provider:            p.Name,
		Endpoint:            p.Endpoint,
		RequestedCoordinate: req.Coordinate(),
		Status:              status,
		VerticalDatum:       a.Reading.VerticalDatum,
		RawPayloadHash:      PayloadHash(a.Reading.Payload),
		FetchedAt:           a.FetchedAt.UTC(),
		Elapsed:             a.Elapsed,
		CacheStatus:         cs,
		CacheKey:            a.CacheKey,
	}
	if obs.VerticalDatum == "" {
		obs.VerticalDatum = p.VerticalDatum
	}
	if status == StatusOK {
		v := a.Reading.ElevationMeters
		obs.ValueMeters = &v
		if a.Reading.ResolutionMeters > 0 {
			r := a.Reading.ResolutionMeters
			obs.ResolutionMeters = &r
		}
	} else if a.Err != nil {
		obs.Error = a.Err.Error()
	}
	return obs
}

// StatusFor classifies a provider error.
func StatusFor(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, ErrNoData) {
		return StatusNoData
	}
	if errors.Is(err, ErrRateLimited) {
		return StatusRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimeout
	}
	return StatusProviderError
}

// PayloadHash is the hex SHA-256 of payload, or "" when nothing was received.
func PayloadHash(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
