package elevation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"

	"github.com/i474232898/elevation-aggregation/internal/metrics"
)

var log = logging.Logger("elevation")

// DefaultCacheTTL keeps cached exchanges for one day.
const DefaultCacheTTL = 24 * time.Hour

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// cachedExchange is what the orchestrator stores under a canonical key.
type cachedExchange struct {
	Provider   string `json:"provider"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Payload    []byte `json:"payload"`
}

// Service orchestrates cache lookups and the provider fallback chain.
type Service struct {
	router     *Router
	classifier *Classifier
	canon      Canonicalizer
	cache      CacheStore
	cacheTTL   time.Duration
	delay      time.Duration
	client     *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option { return func(s *Service) { s.classifier = c } }

// WithCanonicalizer replaces the default canonicalizer.
func WithCanonicalizer(c Canonicalizer) Option { return func(s *Service) { s.canon = c } }

// WithCacheTTL sets the TTL applied to written entries.
func WithCacheTTL(ttl time.Duration) Option { return func(s *Service) { s.cacheTTL = ttl } }

// WithCourtesyDelay sets the minimum gap between outbound calls within a batch.
func WithCourtesyDelay(d time.Duration) Option { return func(s *Service) { s.delay = d } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the wall clock used for observation timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithTransport hands the provider HTTP client to the service, which then owns it and
// releases its connections on Close.
func WithTransport(c *http.Client) Option { return func(s *Service) { s.client = c } }

// NewService creates a new Service. cache may be nil, which disables caching.
func NewService(router *Router, cache CacheStore, opts ...Option) *Service {
	s := &Service{
		router:     router,
		classifier: NewClassifier(nil, nil),
		canon:      NewCanonicalizer(DefaultCoordinatePrecision, DefaultTimeTruncation),
		cache:      cache,
		cacheTTL:   DefaultCacheTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchElevation resolves one coordinate. It returns every observation produced, in attempt
// order. The error is a *ValidationError for rejected input, wraps ErrAllProvidersExhausted
// when no attempt succeeded (observations are still returned), or is the parent context's
// error if it ended mid-walk.
func (s *Service) FetchElevation(ctx context.Context, req CoordinateRequest, opts FetchOptions) ([]Observation, error) {
	return s.fetch(ctx, req, opts, nil)
}

func (s *Service) fetch(ctx context.Context, req CoordinateRequest, opts FetchOptions, p *pacer) ([]Observation, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	key := s.canon.KeyFor(req).String()

	cacheStatus := CacheBypass
	if opts.ReadFromCache && s.cache != nil {
		if obs, ok := s.lookup(ctx, req, key); ok {
			log.Debugw("cache hit", "coordinate", req.Coordinate(), "provider", obs.Provider)
			return []Observation{obs}, nil
		}
		cacheStatus = CacheMiss
	}

	chain, class, err := s.chain(req)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		log.Warnw("no providers available", "coordinate", req.Coordinate(), "class", class)
		return nil, ErrNoProvidersAvailable
	}
	log.Debugw("walking provider chain", "coordinate", req.Coordinate(), "class", class, "providers", names(chain))

	observations := make([]Observation, 0, len(chain))
	var succeeded, written bool
	for _, d := range chain {
		if err := ctx.Err(); err != nil {
			return observations, err
		}
		if err := p.wait(ctx); err != nil {
			return observations, err
		}
		obs, reading := s.attempt(ctx, d, req, key, cacheStatus)
		p.mark()
		observations = append(observations, obs)

		if !obs.OK() {
			continue
		}
		succeeded = true
		if opts.WriteToCache && s.cache != nil && !written {
			s.store(ctx, req, key, d.Name, reading)
			written = true
		}
		if !opts.QueryAllProviders {
			return observations, nil
		}
	}

	if succeeded {
		return observations, nil
	}
	log.Infow("all providers exhausted", "coordinate", req.Coordinate(), "attempts", len(observations))
	return observations, fmt.Errorf("%w: %d providers attempted", ErrAllProvidersExhausted, len(observations))
}

func (s *Service) validateRequest(req CoordinateRequest) error {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return &ValidationError{Field: fe.Field(), Value: fe.Value(), Reason: "violates " + reason}
		}
		return &ValidationError{Field: "request", Value: req, Reason: err.Error()}
	}
	for _, name := range req.Providers {
		if _, ok := s.router.Registry().Lookup(name); !ok {
			return &ValidationError{Field: "providers", Value: name, Reason: "unknown provider"}
		}
	}
	return nil
}

// chain produces the ordered provider list for req.
func (s *Service) chain(req CoordinateRequest) ([]ProviderDescriptor, Classification, error) {
	class := s.classifier.Classify(req.Latitude, req.Longitude)
	if len(req.Providers) > 0 {
		list, err := s.router.Restrict(req.Providers)
		return list, class, err
	}
	return OrderByCoverage(s.router.Route(class), req.Coordinate()), class, nil
}

func (s *Service) attempt(ctx context.Context, d ProviderDescriptor, req CoordinateRequest, key string, cs CacheStatus) (Observation, ProviderReading) {
	reg, _ := s.router.Registry().Lookup(d.Name)

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	fetchedAt := s.now()
	start := time.Now()
	reading, err := reg.Provider.Fetch(callCtx, req.Coordinate())
	elapsed := time.Since(start)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	obs := BuildObservation(d, req, Attempt{
		Reading:   reading,
		Err:       err,
		FetchedAt: fetchedAt,
		Elapsed:   elapsed,
		CacheKey:  key,
	}, cs)
	s.metrics.ObserveAttempt(d.Name, string(obs.Status), elapsed)

	if obs.OK() {
		log.Debugw("provider returned elevation", "provider", d.Name, "meters", *obs.ValueMeters)
	} else {
		log.Infow("provider attempt failed", "provider", d.Name, "status", obs.Status, "err", obs.Error)
	}
	return obs, reading
}

// lookup consults the cache. Backend errors and undecodable entries read as a miss.
func (s *Service) lookup(ctx context.Context, req CoordinateRequest, key string) (Observation, bool) {
	cctx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	entry, ok, err := s.cache.Get(cctx, key)
	if err != nil {
		log.Warnw("cache lookup failed; fetching directly", "key", key, "err", err)
		s.metrics.ObserveCacheLookup("error")
		return Observation{}, false
	}
	if !ok {
		s.metrics.ObserveCacheLookup("miss")
		return Observation{}, false
	}

	var ex cachedExchange
	if err := json.Unmarshal(entry.Payload, &ex); err != nil {
		log.Warnw("discarding undecodable cache entry", "key", key, "err", err)
		s.metrics.ObserveCacheLookup("miss")
		return Observation{}, false
	}
	reg, ok := s.router.Registry().Lookup(ex.Provider)
	if !ok {
		s.metrics.ObserveCacheLookup("miss")
		return Observation{}, false
	}
	reading, err := reg.Provider.Decode(ex.Payload)
	if err != nil {
		log.Warnw("cached payload no longer decodes", "key", key, "provider", ex.Provider, "err", err)
		s.metrics.ObserveCacheLookup("miss")
		return Observation{}, false
	}
	reading.HTTPStatus = ex.HTTPStatus

	s.metrics.ObserveCacheLookup("hit")
	return BuildObservation(reg.Descriptor, req, Attempt{
		Reading:   reading,
		FetchedAt: s.now(),
		CacheKey:  key,
	}, CacheHit), true
}

// store writes a successful exchange. Failures only cost a caching opportunity.
func (s *Service) store(ctx context.Context, req CoordinateRequest, key, provider string, reading ProviderReading) {
	body, err := json.Marshal(cachedExchange{
		Provider:   provider,
		HTTPStatus: reading.HTTPStatus,
		Payload:    reading.Payload,
	})
	if err != nil {
		log.Errorw("encode cache entry", "key", key, "err", err)
		s.metrics.IncCacheWriteFailures()
		return
	}

	cctx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()
	if err := s.cache.Put(cctx, key, body, s.cacheTTL); err != nil {
		log.Warnw("cache write failed; result not cached", "key", key, "provider", provider, "err", err)
		s.metrics.IncCacheWriteFailures()
	}
}

// BatchItem is the result for one coordinate of a batch.
type BatchItem struct {
	Request      CoordinateRequest `json:"request"`
	Observations []Observation     `json:"observations"`
	Summary      Summary           `json:"summary"`
	Err          error             `json:"-"`
	Error        string            `json:"error,omitempty"`
}

// BatchResult groups the items of one batch run.
type BatchResult struct {
	RunID     string      `json:"runId"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt"`
	Items     []BatchItem `json:"items"`
}

// FetchBatch resolves coordinates one after another, spacing consecutive outbound
// provider calls by the courtesy delay. Per-item failures do not stop the batch; a
// cancelled context does.
func (s *Service) FetchBatch(ctx context.Context, reqs []CoordinateRequest, opts FetchOptions) BatchResult {
	res := BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: s.now().UTC(),
		Items:     make([]BatchItem, 0, len(reqs)),
	}
	p := &pacer{delay: s.delay}

	for _, req := range reqs {
		item := BatchItem{Request: req}
		if err := ctx.Err(); err != nil {
			item.Err = err
		} else {
			item.Observations, item.Err = s.fetch(ctx, req, opts, p)
		}
		item.Summary = Summarize(item.Observations)
		if item.Err != nil {
			item.Error = item.Err.Error()
		}
		res.Items = append(res.Items, item)
	}

	res.EndedAt = s.now().UTC()
	log.Infow("batch complete", "run", res.RunID, "items", len(res.Items))
	return res
}

// Classify exposes the classification and the automatic route for a coordinate.
func (s *Service) Classify(lat, lon float64) (Classification, string, []ProviderDescriptor) {
	c := Coordinate{Lat: lat, Lon: lon}
	class := s.classifier.Classify(lat, lon)
	return class, s.classifier.Region(c), OrderByCoverage(s.router.Route(class), c)
}

// Providers lists every registered provider with its availability.
func (s *Service) Providers() []ProviderDescriptor {
	return s.router.Registry().Descriptors()
}

// PurgeCache removes cache entries stored more than age ago.
func (s *Service) PurgeCache(ctx context.Context, age time.Duration) (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	n, err := s.cache.InvalidateOlderThan(ctx, age)
	if err != nil {
		return n, fmt.Errorf("purge cache: %w", err)
	}
	s.metrics.AddPurged(n)
	return n, nil
}

// CacheStats reports the cache backend's statistics.
func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	if s.cache == nil {
		return CacheStats{}, ErrCacheDisabled
	}
	return s.cache.Stats(ctx)
}

// Close releases the cache backend and the provider transport.
func (s *Service) Close() error {
	var errs *multierror.Error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return errs.ErrorOrNil()
}

func names(list []ProviderDescriptor) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, d.Name)
	}
	return out
}

// pacer spaces outbound calls. A nil pacer never waits.
type pacer struct {
	delay time.Duration
	last  time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 || p.last.IsZero() {
		return nil
	}
	d := p.delay - time.Since(p.last)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *pacer) mark() {
	if p != nil {
		p.last = time.Now()
	}
}
