package providers

import (
	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

// Config selects endpoints and credentials for the built-in providers.
type Config struct {
	HTTP HTTPClientConfig

	USGSEndpoint         string
	USGSCovers           func(elevation.Coordinate) bool
	GoogleEndpoint       string
	GoogleAPIKey         string
	OpenTopoDataEndpoint string
	OpenTopoDataset      string
	OSMEndpoint          string

	// Enabled switches providers off by name. Missing names are enabled.
	Enabled map[string]bool
}

type describedProvider interface {
	elevation.Provider
	Descriptor() elevation.ProviderDescriptor
}

// NewRegistry builds a registry holding every enabled built-in provider.
func NewRegistry(cfg Config) (*elevation.Registry, error) {
	all := []describedProvider{
		NewUSGSProvider(cfg.HTTP, cfg.USGSEndpoint, cfg.USGSCovers),
		NewGoogleProvider(cfg.HTTP, cfg.GoogleEndpoint, cfg.GoogleAPIKey),
		NewOpenTopoDataProvider(cfg.HTTP, cfg.OpenTopoDataEndpoint, cfg.OpenTopoDataset),
		NewOpenElevationProvider(cfg.HTTP, cfg.OSMEndpoint),
	}

	regs := make([]elevation.Registration, 0, len(all))
	for _, p := range all {
		if enabled, ok := cfg.Enabled[p.Name()]; ok && !enabled {
			log.Infow("provider disabled by configuration", "provider", p.Name())
			continue
		}
		regs = append(regs, elevation.Registration{Descriptor: p.Descriptor(), Provider: p})
	}
	return elevation.NewRegistry(regs...)
}
