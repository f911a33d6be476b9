package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	logging "github.com/ipfs/go-log/v2"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

var log = logging.Logger("scheduler")

// jobTimeout bounds one run of a background job.
const jobTimeout = 10 * time.Minute

// CacheService is the part of the elevation service the background jobs drive.
type CacheService interface {
	PurgeCache(ctx context.Context, age time.Duration) (int, error)
	FetchBatch(ctx context.Context, reqs []elevation.CoordinateRequest, opts elevation.FetchOptions) elevation.BatchResult
}

// Config controls which jobs run and how often. A zero interval disables a job.
type Config struct {
	PurgeInterval  time.Duration
	PurgeMaxAge    time.Duration
	WarmInterval   time.Duration
	WarmSites      []elevation.Coordinate
	TimeoutSeconds float64
}

// Scheduler periodically purges the cache and keeps configured sites warm.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   CacheService
	cfg       Config
}

// New creates a new Scheduler.
func New(cfg Config, service CacheService) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		cfg:       cfg,
	}
}

// Start schedules the enabled jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	scheduled := 0

	if s.cfg.PurgeInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.PurgeInterval).Do(s.runJob, "purge", s.RunPurge); err != nil {
			return err
		}
		scheduled++
	}
	if s.cfg.WarmInterval > 0 && len(s.cfg.WarmSites) > 0 {
		if _, err := s.scheduler.Every(s.cfg.WarmInterval).Do(s.runJob, "warm", s.RunWarm); err != nil {
			return err
		}
		scheduled++
	}

	if scheduled == 0 {
		log.Infow("no background jobs configured; nothing to schedule")
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	log.Infow("running job", "job", name)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := job(ctx); err != nil {
		log.Errorw("job failed", "job", name, "err", err)
		return
	}
	log.Infow("completed job", "job", name)
}

// RunPurge removes cache entries older than the configured maximum age.
func (s *Scheduler) RunPurge(ctx context.Context) error {
	n, err := s.service.PurgeCache(ctx, s.cfg.PurgeMaxAge)
	if err != nil {
		return err
	}
	log.Infow("purged cache", "removed", n, "olderThan", s.cfg.PurgeMaxAge)
	return nil
}

// RunWarm resolves every configured site, fetching only what the cache lacks.
func (s *Scheduler) RunWarm(ctx context.Context) error {
	reqs := make([]elevation.CoordinateRequest, 0, len(s.cfg.WarmSites))
	for _, site := range s.cfg.WarmSites {
		reqs = append(reqs, elevation.CoordinateRequest{
			Latitude:       site.Lat,
			Longitude:      site.Lon,
			TimeoutSeconds: s.cfg.TimeoutSeconds,
		})
	}

	res := s.service.FetchBatch(ctx, reqs, elevation.DefaultFetchOptions())
	failed := 0
	for _, item := range res.Items {
		if item.Err != nil {
			failed++
			log.Warnw("warm-up fetch failed", "run", res.RunID, "coordinate", item.Request.Coordinate(), "err", item.Err)
		}
	}
	log.Infow("warmed sites", "run", res.RunID, "sites", len(res.Items), "failed", failed)
	return ctx.Err()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
