package elevation

import (
	"errors"
	"fmt"
)

var (
	// ErrAllProvidersExhausted is returned when no provider in the chain produced a usable value.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrNoProvidersAvailable is returned when routing left nothing to try. It wraps
	// ErrAllProvidersExhausted so both conditions read as "no usable result".
	ErrNoProvidersAvailable = fmt.Errorf("%w: no providers available", ErrAllProvidersExhausted)

	// ErrNoData is returned by providers that explicitly report no elevation at a location.
	ErrNoData = errors.New("no elevation data at location")

	// ErrRateLimited is returned by providers that refused the call for quota reasons.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError rejects a request before any cache or network activity.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrCacheDisabled is returned by cache operations on a service built without a cache.
var ErrCacheDisabled = errors.New("cache disabled")
