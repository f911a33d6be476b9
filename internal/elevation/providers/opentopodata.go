package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

const (
	// DefaultOpenTopoDataEndpoint is the public Open Topo Data API root.
	DefaultOpenTopoDataEndpoint = "https://api.opentopodata.org/v1"

	// DatasetAuto picks a dataset per coordinate.
	DatasetAuto = "auto"

	// DefaultOpenTopoDataset is used when no dataset is configured.
	DefaultOpenTopoDataset = "srtm30m"
)

// Dataset describes one Open Topo Data raster.
type Dataset struct {
	Name       string
	Resolution float64
	Datum      string
	Coverage   *elevation.BoundingBox // nil means global
}

var (
	europe = elevation.BoundingBox{Name: "europe", MinLat: 35, MaxLat: 65, MinLon: -15, MaxLon: 40}
	srtm   = elevation.BoundingBox{Name: "srtm", MinLat: -56, MaxLat: 60, MinLon: -180, MaxLon: 180}
	aster  = elevation.BoundingBox{Name: "aster", MinLat: -83, MaxLat: 83, MinLon: -180, MaxLon: 180}
	conus  = elevation.BoundingBox{Name: "conus", MinLat: 24, MaxLat: 50, MinLon: -125, MaxLon: -66}
)

var datasets = map[string]Dataset{
	"srtm30m":  {Name: "srtm30m", Resolution: 30, Datum: "EGM96", Coverage: &srtm},
	"srtm90m":  {Name: "srtm90m", Resolution: 90, Datum: "EGM96", Coverage: &srtm},
	"aster30m": {Name: "aster30m", Resolution: 30, Datum: "EGM96", Coverage: &aster},
	"eudem25m": {Name: "eudem25m", Resolution: 25, Datum: "EVRS2000", Coverage: &europe},
	"ned10m":   {Name: "ned10m", Resolution: 10, Datum: "NAVD88", Coverage: &conus},
	"mapzen":   {Name: "mapzen", Resolution: 30, Datum: "EGM96"},
}

// LookupDataset returns the metadata for name. Unknown datasets get 30 m / EGM96.
func LookupDataset(name string) Dataset {
	if ds, ok := datasets[name]; ok {
		return ds
	}
	return Dataset{Name: name, Resolution: 30, Datum: "EGM96"}
}

// SelectDataset picks the finest general-purpose dataset for c.
func SelectDataset(c elevation.Coordinate) string {
	switch {
	case europe.Contains(c):
		return "eudem25m"
	case c.Lat > 60 || c.Lat < -60:
		return "aster30m"
	default:
		return "srtm30m"
	}
}

// OpenTopoDataProvider implements elevation.Provider for Open Topo Data.
type OpenTopoDataProvider struct {
	name    string
	baseURL string
	dataset string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenTopoDataProvider creates the provider for dataset, or for per-coordinate
// selection when dataset is DatasetAuto.
func NewOpenTopoDataProvider(cfg HTTPClientConfig, endpoint, dataset string) *OpenTopoDataProvider {
	if endpoint == "" {
		endpoint = DefaultOpenTopoDataEndpoint
	}
	if dataset == "" {
		dataset = DefaultOpenTopoDataset
	}
	return &OpenTopoDataProvider{
		name:    elevation.ProviderOpenTopoData,
		baseURL: strings.TrimRight(endpoint, "/"),
		dataset: dataset,
		httpCfg: cfg,
		circuit: newBreaker(elevation.ProviderOpenTopoData),
	}
}

func (p *OpenTopoDataProvider) Name() string {
	return p.name
}

// Descriptor describes the provider for the registry.
func (p *OpenTopoDataProvider) Descriptor() elevation.ProviderDescriptor {
	d := elevation.ProviderDescriptor{
		Name:      p.name,
		Endpoint:  p.baseURL + "/" + p.dataset,
		RateLimit: "1 call/s, 1000 calls/day on the public instance",
	}
	if p.dataset == DatasetAuto {
		return d
	}
	ds := LookupDataset(p.dataset)
	d.VerticalDatum = ds.Datum
	if ds.Coverage != nil {
		box := *ds.Coverage
		d.Covers = box.Contains
	}
	return d
}

func (p *OpenTopoDataProvider) datasetFor(c elevation.Coordinate) string {
	if p.dataset == DatasetAuto {
		return SelectDataset(c)
	}
	return p.dataset
}

func (p *OpenTopoDataProvider) Fetch(ctx context.Context, c elevation.Coordinate) (elevation.ProviderReading, error) {
	dataset := p.datasetFor(c)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("locations", fmt.Sprintf("%s,%s", formatDegrees(c.Lat), formatDegrees(c.Lon)))

		u := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(dataset), values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return failed(resp, err)
	}
	return p.decode(resp, dataset)
}

func (p *OpenTopoDataProvider) Decode(payload []byte) (elevation.ProviderReading, error) {
	return p.decode(response{status: http.StatusOK, body: payload}, p.dataset)
}

// decode reads the dataset from the response when present; fallback names the dataset
// that was requested.
func (p *OpenTopoDataProvider) decode(resp response, fallback string) (elevation.ProviderReading, error) {
	var payload struct {
		Status  string `json:"status"`
		Error   string `json:"error"`
		Results []struct {
			Dataset   string   `json:"dataset"`
			Elevation *float64 `json:"elevation"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return failed(resp, fmt.Errorf("decode open topo data response: %w", err))
	}
	if payload.Status != "OK" {
		msg := payload.Error
		if msg == "" {
			msg = "unknown api error"
		}
		return failed(resp, fmt.Errorf("open topo data: %s", msg))
	}
	if len(payload.Results) == 0 || payload.Results[0].Elevation == nil {
		return failed(resp, fmt.Errorf("%w: open topo data returned null elevation", elevation.ErrNoData))
	}
	result := payload.Results[0]

	name := result.Dataset
	if name == "" {
		name = fallback
	}
	ds := LookupDataset(name)
	return reading(resp, *result.Elevation, ds.Datum, ds.Resolution), nil
}
