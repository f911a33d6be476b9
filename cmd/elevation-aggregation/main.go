package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/i474232898/elevation-aggregation/internal/api/http"
	"github.com/i474232898/elevation-aggregation/internal/config"
	"github.com/i474232898/elevation-aggregation/internal/elevation"
	"github.com/i474232898/elevation-aggregation/internal/elevation/providers"
	"github.com/i474232898/elevation-aggregation/internal/metrics"
	"github.com/i474232898/elevation-aggregation/internal/scheduler"
	"github.com/i474232898/elevation-aggregation/internal/store"
)

var log = logging.Logger("elevation-aggregation")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lvl, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		log.Warnw("unknown LOG_LEVEL; using info", "level", cfg.LogLevel)
		lvl = logging.LevelInfo
	}
	logging.SetAllLoggers(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound provider calls, owned by the service.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	httpCfg := providers.DefaultHTTPClientConfig(httpClient)
	httpCfg.Backoff.MaxRetries = cfg.ProviderMaxRetries

	classifier := elevation.NewClassifier(nil, nil)
	registry, err := providers.NewRegistry(providers.Config{
		HTTP:                 httpCfg,
		USGSEndpoint:         cfg.USGSEndpoint,
		USGSCovers:           classifier.IsDomestic,
		GoogleEndpoint:       cfg.GoogleEndpoint,
		GoogleAPIKey:         cfg.GoogleAPIKey,
		OpenTopoDataEndpoint: cfg.OpenTopoDataEndpoint,
		OpenTopoDataset:      cfg.OpenTopoDataset,
		OSMEndpoint:          cfg.OSMEndpoint,
		Enabled:              cfg.EnabledProviders,
	})
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}
	for _, d := range registry.Descriptors() {
		log.Infow("provider registered", "provider", d.Name, "endpoint", d.Endpoint, "available", d.Available())
	}

	cache, err := store.Open(ctx, store.Config{
		Backend:     cfg.CacheBackend,
		MaxEntries:  cfg.CacheMaxEntries,
		BoltPath:    cfg.CacheBoltPath,
		RedisURL:    cfg.RedisURL,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		log.Fatalf("failed to open cache backend %q: %v", cfg.CacheBackend, err)
	}
	log.Infow("cache ready", "backend", cfg.CacheBackend, "ttl", cfg.CacheTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Core service orchestrating routing, providers and the cache.
	service := elevation.NewService(
		elevation.NewRouter(registry, cfg.Routes),
		cache,
		elevation.WithClassifier(classifier),
		elevation.WithCanonicalizer(elevation.NewCanonicalizer(cfg.CacheCoordPrecision, cfg.CacheTimeTruncation)),
		elevation.WithCacheTTL(cfg.CacheTTL),
		elevation.WithCourtesyDelay(cfg.CourtesyDelay),
		elevation.WithMetrics(metrics.New(reg)),
		elevation.WithTransport(httpClient),
	)
	defer func() {
		if err := service.Close(); err != nil {
			log.Errorw("error closing service", "err", err)
		}
	}()

	// Background cache maintenance.
	purgeInterval := cfg.CachePurgeInterval
	if cache == nil {
		purgeInterval = 0
	}
	sched := scheduler.New(scheduler.Config{
		PurgeInterval:  purgeInterval,
		PurgeMaxAge:    cfg.CachePurgeMaxAge,
		WarmInterval:   cfg.WarmInterval,
		WarmSites:      cfg.WarmSites,
		TimeoutSeconds: cfg.FetchTimeoutSeconds,
	}, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "elevation-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2 * time.Minute,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "elevation-aggregation",
			"cache":   cfg.CacheBackend,
		})
	})

	httpapi.RegisterRoutes(app, service, httpapi.Config{
		DefaultTimeoutSeconds: cfg.FetchTimeoutSeconds,
		Gatherer:              reg,
	})

	go func() {
		log.Infow("listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorw("fiber server stopped", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorw("error during shutdown", "err", err)
	}
}
