package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const (
	// DefaultUSGSEndpoint is the Elevation Point Query Service.
	DefaultUSGSEndpoint = "https://epqs.nationalmap.gov/v1/json"

	usgsNoDataValue = -1000000
	usgsDatum       = "NAVD88"
	usgsResolutionM = 10.0
	usgsWKID        = "4326"
)

// USGSProvider implements elevation.Provider for the USGS point query service.
type USGSProvider struct {
	name    string
	baseURL string
	covers  func(elevation.Coordinate) bool
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewUSGSProvider creates the provider. covers reports where the service has data; nil
// means everywhere.
func NewUSGSProvider(cfg HTTPClientConfig, endpoint string, covers func(elevation.Coordinate) bool) *USGSProvider {
	if endpoint == "" {
		endpoint = DefaultUSGSEndpoint
	}
	return &USGSProvider{
		name:    elevation.ProviderUSGS,
		baseURL: endpoint,
		covers:  covers,
		httpCfg: cfg,
		circuit: newBreaker(elevation.ProviderUSGS),
	}
}

func (p *USGSProvider) Name() string {
	return p.name
}

// Descriptor describes the provider for the registry.
func (p *USGSProvider) Descriptor() elevation.ProviderDescriptor {
	return elevation.ProviderDescriptor{
		Name:          p.name,
		Endpoint:      p.baseURL,
		Covers:        p.covers,
		RateLimit:     "best effort, no published quota",
		VerticalDatum: usgsDatum,
	}
}

func (p *USGSProvider) Fetch(ctx context.Context, c elevation.Coordinate) (elevation.ProviderReading, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("x", formatDegrees(c.Lon))
		values.Set("y", formatDegrees(c.Lat))
		values.Set("wkid", usgsWKID)
		values.Set("units", "Meters")
		values.Set("includeDate", "false")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return failed(resp, err)
	}
	return p.decode(resp)
}

func (p *USGSProvider) Decode(payload []byte) (elevation.ProviderReading, error) {
	return p.decode(response{status: http.StatusOK, body: payload})
}

func (p *USGSProvider) decode(resp response) (elevation.ProviderReading, error) {
	if strings.Contains(strings.ToLower(string(resp.body)), "failed") {
		return failed(resp, fmt.Errorf("%w: usgs reported a failed query", elevation.ErrNoData))
	}

	var payload struct {
		Value      json.RawMessage `json:"value"`
		Resolution *float64        `json:"resolution"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return failed(resp, fmt.Errorf("decode usgs response: %w", err))
	}

	raw := bytes.Trim(bytes.TrimSpace(payload.Value), `"`)
	if len(raw) == 0 || string(raw) == "null" {
		return failed(resp, fmt.Errorf("%w: usgs returned no value", elevation.ErrNoData))
	}
	meters, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return failed(resp, fmt.Errorf("parse usgs value %q: %w", raw, err))
	}
	if meters == usgsNoDataValue {
		return failed(resp, fmt.Errorf("%w: usgs no-data sentinel", elevation.ErrNoData))
	}

	resolution := usgsResolutionM
	if payload.Resolution != nil && *payload.Resolution > 0 {
		resolution = *payload.Resolution
	}
	return reading(resp, meters, usgsDatum, resolution), nil
}
