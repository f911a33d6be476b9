package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const (
	// DefaultOpenElevationEndpoint is the public Open-Elevation lookup endpoint.
	DefaultOpenElevationEndpoint = "https://api.open-elevation.com/api/v1/lookup"

	openElevationDatum       = "EGM96"
	openElevationResolutionM = 90.0
)

// OpenElevationProvider implements elevation.Provider for Open-Elevation style services,
// registered under the osm name.
type OpenElevationProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenElevationProvider(cfg HTTPClientConfig, endpoint string) *OpenElevationProvider {
	if endpoint == "" {
		endpoint = DefaultOpenElevationEndpoint
	}
	return &OpenElevationProvider{
		name:    elevation.ProviderOSM,
		baseURL: endpoint,
		httpCfg: cfg,
		circuit: newBreaker(elevation.ProviderOSM),
	}
}

func (p *OpenElevationProvider) Name() string {
	return p.name
}

// Descriptor describes the provider for the registry. The backing SRTM data stops
// short of the poles.
func (p *OpenElevationProvider) Descriptor() elevation.ProviderDescriptor {
	return elevation.ProviderDescriptor{
		Name:          p.name,
		Endpoint:      p.baseURL,
		Covers:        srtm.Contains,
		RateLimit:     "community service, no guaranteed quota",
		VerticalDatum: openElevationDatum,
	}
}

type openElevationLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p *OpenElevationProvider) Fetch(ctx context.Context, c elevation.Coordinate) (elevation.ProviderReading, error) {
	body, err := json.Marshal(struct {
		Locations []openElevationLocation `json:"locations"`
	}{Locations: []openElevationLocation{{Latitude: c.Lat, Longitude: c.Lon}}})
	if err != nil {
		return elevation.ProviderReading{}, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return failed(resp, err)
	}
	return p.decode(resp)
}

func (p *OpenElevationProvider) Decode(payload []byte) (elevation.ProviderReading, error) {
	return p.decode(response{status: http.StatusOK, body: payload})
}

func (p *OpenElevationProvider) decode(resp response) (elevation.ProviderReading, error) {
	var payload struct {
		Results []struct {
			Elevation *float64 `json:"elevation"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return failed(resp, fmt.Errorf("decode open-elevation response: %w", err))
	}
	if len(payload.Results) == 0 || payload.Results[0].Elevation == nil {
		return failed(resp, fmt.Errorf("%w: open-elevation returned no elevation", elevation.ErrNoData))
	}
	return reading(resp, *payload.Results[0].Elevation, openElevationDatum, openElevationResolutionM), nil
}
