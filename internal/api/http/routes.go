package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var log = logging.Logger("httpapi")

var validate = validator.New()

// Config tunes the routes.
type Config struct {
	// DefaultTimeoutSeconds applies to requests that do not set a timeout.
	DefaultTimeoutSeconds float64
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *elevation.Service, cfg Config) {
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/elevation", func(c *fiber.Ctx) error {
		var q elevationQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req := q.toRequest(cfg.DefaultTimeoutSeconds)

		observations, err := service.FetchElevation(c.UserContext(), req, q.Options)
		if err != nil {
			return fetchError(c, err, observations)
		}
		return c.JSON(fiber.Map{
			"request":      req,
			"observations": observations,
			"summary":      elevation.Summarize(observations),
		})
	})

	v1.Post("/elevation/batch", func(c *fiber.Ctx) error {
		var body batchBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid batch body: "+err.Error())
		}
		for i := range body.Requests {
			if body.Requests[i].TimeoutSeconds == 0 {
				body.Requests[i].TimeoutSeconds = cfg.DefaultTimeoutSeconds
			}
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		opts := elevation.DefaultFetchOptions()
		if body.Options != nil {
			opts = *body.Options
		}
		return c.JSON(service.FetchBatch(c.UserContext(), body.Requests, opts))
	})

	v1.Get("/classify", func(c *fiber.Ctx) error {
		var q coordinateQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		class, region, route := service.Classify(q.lat, q.lon)
		return c.JSON(fiber.Map{
			"coordinate":     elevation.Coordinate{Lat: q.lat, Lon: q.lon},
			"classification": class,
			"region":         region,
			"providers":      route,
		})
	})

	v1.Get("/providers", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"providers": service.Providers()})
	})

	v1.Get("/cache/stats", func(c *fiber.Ctx) error {
		stats, err := service.CacheStats(c.UserContext())
		if err != nil {
			return cacheError(err)
		}
		return c.JSON(stats)
	})

	v1.Delete("/cache", func(c *fiber.Ctx) error {
		raw := c.Query("older_than")
		if raw == "" {
			return fiber.NewError(fiber.StatusBadRequest, "older_than query parameter is required")
		}
		age, err := time.ParseDuration(raw)
		if err != nil || age < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid older_than; use a non-negative duration such as 720h")
		}

		removed, err := service.PurgeCache(c.UserContext(), age)
		if err != nil {
			return cacheError(err)
		}
		return c.JSON(fiber.Map{"removed": removed, "olderThan": age.String()})
	})
}

// ErrorHandler renders every handler error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "status", code, "err", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// fetchError maps orchestrator errors to responses. Exhaustion still reports the
// observations gathered on the way.
func fetchError(c *fiber.Ctx, err error, observations []elevation.Observation) error {
	switch {
	case elevation.IsValidation(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, elevation.ErrNoProvidersAvailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, elevation.ErrAllProvidersExhausted):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":        true,
			"message":      err.Error(),
			"observations": observations,
			"summary":      elevation.Summarize(observations),
		})
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch elevation")
	}
}

func cacheError(err error) error {
	if errors.Is(err, elevation.ErrCacheDisabled) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "cache operation failed")
}

// coordinateQuery holds the lat/lon query parameters.
type coordinateQuery struct {
	Lat string `validate:"required,numeric"`
	Lon string `validate:"required,numeric"`

	lat, lon float64
}

func (q *coordinateQuery) bind(c *fiber.Ctx) error {
	q.Lat = c.Query("lat")
	q.Lon = c.Query("lon")
	if err := validate.Struct(q); err != nil {
		return err
	}

	var err error
	if q.lat, err = strconv.ParseFloat(q.Lat, 64); err != nil {
		return errors.New("invalid lat")
	}
	if q.lon, err = strconv.ParseFloat(q.Lon, 64); err != nil {
		return errors.New("invalid lon")
	}
	return nil
}

// elevationQuery holds the query parameters of a single lookup.
type elevationQuery struct {
	Coordinate coordinateQuery
	Timestamp  *time.Time
	Providers  []string
	Timeout    float64 `validate:"gte=0"`
	Options    elevation.FetchOptions
}

func (q *elevationQuery) bind(c *fiber.Ctx) error {
	if err := q.Coordinate.bind(c); err != nil {
		return err
	}

	if raw := c.Query("timestamp"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return err
		}
		q.Timestamp = &ts
	}

	if raw := c.Query("providers"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Providers = append(q.Providers, name)
			}
		}
	}

	if raw := c.Query("timeout"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.New("invalid timeout; use seconds")
		}
		q.Timeout = t
	}

	q.Options = elevation.DefaultFetchOptions()
	for key, dst := range map[string]*bool{
		"cache_read":  &q.Options.ReadFromCache,
		"cache_write": &q.Options.WriteToCache,
		"all":         &q.Options.QueryAllProviders,
	} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.New("invalid " + key + "; use true or false")
		}
		*dst = b
	}

	return validate.Struct(q)
}

func (q elevationQuery) toRequest(defaultTimeout float64) elevation.CoordinateRequest {
	timeout := q.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return elevation.CoordinateRequest{
		Latitude:       q.Coordinate.lat,
		Longitude:      q.Coordinate.lon,
		Timestamp:      q.Timestamp,
		Providers:      q.Providers,
		TimeoutSeconds: timeout,
	}
}

// batchBody is the JSON body of the batch endpoint.
type batchBody struct {
	Requests []elevation.CoordinateRequest `json:"requests" validate:"required,min=1,max=500"`
	Options  *elevation.FetchOptions       `json:"options"`
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
