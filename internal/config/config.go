package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var log = logging.Logger("config")

var cacheBackends = map[string]bool{"memory": true, "bolt": true, "redis": true, "postgres": true, "none": true}

var providerNames = []string{
	elevation.ProviderUSGS,
	elevation.ProviderGoogle,
	elevation.ProviderOpenTopoData,
	elevation.ProviderOSM,
}

type AppConfig struct {
	Port     string
	LogLevel string

	// Providers.
	GoogleAPIKey         string
	USGSEndpoint         string
	GoogleEndpoint       string
	OpenTopoDataEndpoint string
	OpenTopoDataset      string
	OSMEndpoint          string
	EnabledProviders     map[string]bool
	Routes               elevation.PriorityTable // overrides only; missing classes use defaults

	// Outbound calls.
	HTTPTimeout         time.Duration
	FetchTimeoutSeconds float64
	CourtesyDelay       time.Duration
	ProviderMaxRetries  int

	// Cache.
	CacheBackend        string
	CacheMaxEntries     int // memory backend only (0 = unlimited)
	CacheTTL            time.Duration
	CacheCoordPrecision int
	CacheTimeTruncation time.Duration
	CacheBoltPath       string
	RedisURL            string
	PostgresDSN         string
	CachePurgeInterval  time.Duration // 0 disables the purge job
	CachePurgeMaxAge    time.Duration

	// Warm-up job.
	WarmInterval time.Duration // 0 disables the warm-up job
	WarmSites    []elevation.Coordinate
}

// Load reads configuration from environment with sensible defaults. Every invalid
// variable is reported, not just the first.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Infow("no .env file loaded", "err", err)
	}

	l := &loader{}
	cfg := &AppConfig{
		Port:     getenvDefault("PORT", "8080"),
		LogLevel: getenvDefault("LOG_LEVEL", "info"),

		GoogleAPIKey:         os.Getenv("GOOGLE_MAIN_API_KEY"),
		USGSEndpoint:         os.Getenv("ELEVATION_USGS_ENDPOINT"),
		GoogleEndpoint:       os.Getenv("ELEVATION_GOOGLE_ENDPOINT"),
		OpenTopoDataEndpoint: os.Getenv("ELEVATION_OPEN_TOPO_DATA_ENDPOINT"),
		OpenTopoDataset:      getenvDefault("ELEVATION_OPEN_TOPO_DATA_DATASET", "srtm30m"),
		OSMEndpoint:          os.Getenv("ELEVATION_OSM_ENDPOINT"),
		EnabledProviders:     make(map[string]bool),
		Routes:               make(elevation.PriorityTable),

		HTTPTimeout:         l.getenvDuration("HTTP_TIMEOUT", "30s"),
		FetchTimeoutSeconds: l.getenvFloat("FETCH_TIMEOUT_SECONDS", 20),
		CourtesyDelay:       l.getenvDuration("COURTESY_DELAY", "100ms"),
		ProviderMaxRetries:  l.getenvInt("PROVIDER_MAX_RETRIES", 0),

		CacheBackend:        strings.ToLower(getenvDefault("CACHE_BACKEND", "memory")),
		CacheMaxEntries:     l.getenvInt("CACHE_MAX_ENTRIES", 100000),
		CacheTTL:            l.getenvDuration("CACHE_TTL", "24h"),
		CacheCoordPrecision: l.getenvInt("CACHE_COORD_PRECISION", elevation.DefaultCoordinatePrecision),
		CacheTimeTruncation: l.getenvDuration("CACHE_TIME_TRUNCATION", "24h"),
		CacheBoltPath:       getenvDefault("CACHE_BOLT_PATH", "elevation-cache.db"),
		RedisURL:            os.Getenv("REDIS_URL"),
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		CachePurgeInterval:  l.getenvDuration("CACHE_PURGE_INTERVAL", "0"),
		CachePurgeMaxAge:    l.getenvDuration("CACHE_PURGE_MAX_AGE", "720h"),

		WarmInterval: l.getenvDuration("WARM_INTERVAL", "0"),
	}

	for _, name := range providerNames {
		key := "ELEVATION_ENABLE_" + strings.ToUpper(name)
		cfg.EnabledProviders[name] = l.getenvBool(key, true)
	}
	for _, class := range []elevation.Classification{elevation.ClassDomestic, elevation.ClassInternational, elevation.ClassOcean} {
		key := "ELEVATION_ROUTE_" + strings.ToUpper(string(class))
		if names := l.getenvProviderList(key); len(names) > 0 {
			cfg.Routes[class] = names
		}
	}

	sites, err := ParseSites(os.Getenv("WARM_SITES"))
	if err != nil {
		l.fail(fmt.Errorf("invalid WARM_SITES: %w", err))
	}
	cfg.WarmSites = sites

	cfg.validate(l)
	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) validate(l *loader) {
	if !cacheBackends[cfg.CacheBackend] {
		l.fail(fmt.Errorf("invalid CACHE_BACKEND %q", cfg.CacheBackend))
	}
	if cfg.CacheBackend == "redis" && cfg.RedisURL == "" {
		l.fail(fmt.Errorf("REDIS_URL is required for the redis cache backend"))
	}
	if cfg.CacheBackend == "postgres" && cfg.PostgresDSN == "" {
		l.fail(fmt.Errorf("POSTGRES_DSN is required for the postgres cache backend"))
	}
	if cfg.FetchTimeoutSeconds <= 0 || cfg.FetchTimeoutSeconds > elevation.MaxTimeoutSeconds {
		l.fail(fmt.Errorf("FETCH_TIMEOUT_SECONDS must be in (0, %d]", elevation.MaxTimeoutSeconds))
	}
	if cfg.CacheCoordPrecision < 1 || cfg.CacheCoordPrecision > 10 {
		l.fail(fmt.Errorf("CACHE_COORD_PRECISION must be between 1 and 10"))
	}
	if cfg.ProviderMaxRetries < 0 {
		l.fail(fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative"))
	}
	if cfg.WarmInterval > 0 && len(cfg.WarmSites) == 0 {
		log.Warnw("WARM_INTERVAL set without WARM_SITES; warm-up job disabled")
	}
}

// ParseSites parses "lat,lon;lat,lon" into coordinates.
func ParseSites(raw string) ([]elevation.Coordinate, error) {
	var sites []elevation.Coordinate
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lat, lon, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("site %q is not lat,lon", part)
		}
		c, err := parseCoordinate(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", part, err)
		}
		sites = append(sites, c)
	}
	return sites, nil
}

func parseCoordinate(latStr, lonStr string) (elevation.Coordinate, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return elevation.Coordinate{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return elevation.Coordinate{}, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return elevation.Coordinate{}, fmt.Errorf("out of range")
	}
	return elevation.Coordinate{Lat: lat, Lon: lon}, nil
}

// loader collects parse errors so Load can report all of them.
type loader struct {
	errs *multierror.Error
}

func (l *loader) fail(err error) {
	l.errs = multierror.Append(l.errs, err)
}

func (l *loader) err() error {
	return l.errs.ErrorOrNil()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *loader) getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return n
	}
	return def
}

func (l *loader) getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			l.fail(fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return f
	}
	return def
}

func (l *loader) getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.fail(fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return b
	}
	return def
}

func (l *loader) getenvDuration(key, def string) time.Duration {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		l.fail(fmt.Errorf("invalid %s: %w", key, err))
		return 0
	}
	if d < 0 {
		l.fail(fmt.Errorf("invalid %s: negative duration", key))
		return 0
	}
	return d
}

func (l *loader) getenvProviderList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(v, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		known := false
		for _, p := range providerNames {
			known = known || p == name
		}
		if !known {
			l.fail(fmt.Errorf("invalid %s: unknown provider %q", key, name))
			continue
		}
		names = append(names, name)
	}
	return names
}
