package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const (
	// DefaultGoogleEndpoint is the Google Elevation API.
	DefaultGoogleEndpoint = "https://maps.googleapis.com/maps/api/elevation/json"

	googleDatum = "EGM96"
)

// GoogleProvider implements elevation.Provider for the Google Elevation API.
type GoogleProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGoogleProvider(cfg HTTPClientConfig, endpoint, apiKey string) *GoogleProvider {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}
	return &GoogleProvider{
		name:    elevation.ProviderGoogle,
		apiKey:  apiKey,
		baseURL: endpoint,
		httpCfg: cfg,
		circuit: newBreaker(elevation.ProviderGoogle),
	}
}

func (p *GoogleProvider) Name() string {
	return p.name
}

// Descriptor describes the provider for the registry. The provider is only available
// when an API key is configured.
func (p *GoogleProvider) Descriptor() elevation.ProviderDescriptor {
	return elevation.ProviderDescriptor{
		Name:               p.name,
		Endpoint:           p.baseURL,
		RequiresCredential: true,
		CredentialPresent:  p.apiKey != "",
		RateLimit:          "metered per API key",
		VerticalDatum:      googleDatum,
	}
}

func (p *GoogleProvider) Fetch(ctx context.Context, c elevation.Coordinate) (elevation.ProviderReading, error) {
	if p.apiKey == "" {
		return elevation.ProviderReading{}, fmt.Errorf("google: %w", errNoCredential)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("locations", fmt.Sprintf("%s,%s", formatDegrees(c.Lat), formatDegrees(c.Lon)))
		values.Set("key", p.apiKey)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return failed(resp, err)
	}
	return p.decode(resp)
}

func (p *GoogleProvider) Decode(payload []byte) (elevation.ProviderReading, error) {
	return p.decode(response{status: http.StatusOK, body: payload})
}

func (p *GoogleProvider) decode(resp response) (elevation.ProviderReading, error) {
	var payload struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Elevation  *float64 `json:"elevation"`
			Resolution *float64 `json:"resolution"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return failed(resp, fmt.Errorf("decode google response: %w", err))
	}

	switch payload.Status {
	case "OK":
	case "ZERO_RESULTS":
		return failed(resp, fmt.Errorf("%w: google returned zero results", elevation.ErrNoData))
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return failed(resp, fmt.Errorf("%w: google status %s", elevation.ErrRateLimited, payload.Status))
	default:
		msg := payload.ErrorMessage
		if msg == "" {
			msg = "api returned status " + payload.Status
		}
		return failed(resp, fmt.Errorf("google: %s", msg))
	}

	if len(payload.Results) == 0 || payload.Results[0].Elevation == nil {
		return failed(resp, fmt.Errorf("%w: google returned no elevation", elevation.ErrNoData))
	}
	result := payload.Results[0]

	var resolution float64
	if result.Resolution != nil {
		resolution = *result.Resolution
	}
	return reading(resp, *result.Elevation, googleDatum, resolution), nil
}
