package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var log = logging.Logger("providers")

// maxPayloadBytes bounds how much of a provider response is read.
const maxPayloadBytes = 1 << 20

// BackoffConfig controls exponential backoff between retries of one provider call.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// DefaultHTTPClientConfig makes a single attempt per call; the fallback chain is the
// primary recovery mechanism.
func DefaultHTTPClientConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      0,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
	}
}

var (
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
	errNoCredential  = errors.New("credential not configured")
)

// response is a fully read provider response.
type response struct {
	status int
	body   []byte
}

// newBreaker trips only on server errors and transport failures. The caller's own
// deadline or cancellation, rate limiting and other client errors leave it untouched.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  5,
		Interval:     1 * time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// doRequestWithResilience executes the HTTP request through the circuit breaker, retrying
// server errors and transport failures with exponential backoff. Rate limiting and other
// client errors are returned immediately. The body read so far is returned alongside any
// status error.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (response, error) {
	if cfg.Client == nil {
		return response{}, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return response{}, errInvalidConfig
	}

	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return response{}, err
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return response{}, err
		}

		var resp response
		_, err = cb.Execute(func() (interface{}, error) {
			r, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, callerAborted(ctx, execErr)
			}
			defer r.Body.Close()

			body, readErr := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
			resp = response{status: r.StatusCode, body: body}
			if readErr != nil {
				return nil, callerAborted(ctx, readErr)
			}

			switch {
			case r.StatusCode == http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: status %d", elevation.ErrRateLimited, r.StatusCode)
			case r.StatusCode >= 500:
				return nil, fmt.Errorf("%w: status %d", errServerError, r.StatusCode)
			case r.StatusCode < 200 || r.StatusCode >= 300:
				return nil, fmt.Errorf("%w: %d", errUnexpected, r.StatusCode)
			}
			return nil, nil
		})
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return resp, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if !retryable(ctx, err) || attempt >= cfg.Backoff.MaxRetries {
			return resp, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}
		log.Debugw("retrying provider call", "breaker", cb.Name(), "attempt", attempt+1, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resp, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

// callerAborted ties a transport error to the caller's context when that context ended.
func callerAborted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func breakerSuccess(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.Is(err, elevation.ErrRateLimited), errors.Is(err, errUnexpected):
		return true
	}
	return false
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, elevation.ErrRateLimited) || errors.Is(err, errUnexpected) {
		return false
	}
	return true
}

// reading builds a ProviderReading around a received payload.
func reading(resp response, meters float64, datum string, resolution float64) elevation.ProviderReading {
	return elevation.ProviderReading{
		ElevationMeters:  meters,
		VerticalDatum:    datum,
		ResolutionMeters: resolution,
		Payload:          resp.body,
		HTTPStatus:       resp.status,
	}
}

// failed keeps whatever payload arrived so its hash can still be recorded.
func failed(resp response, err error) (elevation.ProviderReading, error) {
	return elevation.ProviderReading{Payload: resp.body, HTTPStatus: resp.status}, err
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
