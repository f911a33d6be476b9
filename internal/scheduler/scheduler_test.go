package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

type fakeService struct {
	mu       sync.Mutex
	purged   []time.Duration
	batches  [][]elevation.CoordinateRequest
	purgeErr error
}

func (f *fakeService) PurgeCache(_ context.Context, age time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, age)
	return 2, f.purgeErr
}

func (f *fakeService) FetchBatch(_ context.Context, reqs []elevation.CoordinateRequest, _ elevation.FetchOptions) elevation.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, reqs)
	res := elevation.BatchResult{RunID: "run"}
	for _, r := range reqs {
		res.Items = append(res.Items, elevation.BatchItem{Request: r})
	}
	return res
}

func (f *fakeService) purgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.purged)
}

func TestRunPurge(t *testing.T) {
	svc := &fakeService{}
	s := New(Config{PurgeMaxAge: 48 * time.Hour}, svc)

	require.NoError(t, s.RunPurge(context.Background()))
	assert.Equal(t, []time.Duration{48 * time.Hour}, svc.purged)

	svc.purgeErr = errors.New("backend down")
	assert.Error(t, s.RunPurge(context.Background()))
}

func TestRunWarm(t *testing.T) {
	svc := &fakeService{}
	s := New(Config{
		WarmSites:      []elevation.Coordinate{{Lat: 43.8791, Lon: -103.4591}, {Lat: 51.5074, Lon: -0.1278}},
		TimeoutSeconds: 5,
	}, svc)

	require.NoError(t, s.RunWarm(context.Background()))
	require.Len(t, svc.batches, 1)
	assert.Equal(t, []elevation.CoordinateRequest{
		{Latitude: 43.8791, Longitude: -103.4591, TimeoutSeconds: 5},
		{Latitude: 51.5074, Longitude: -0.1278, TimeoutSeconds: 5},
	}, svc.batches[0])
}

func TestStartWithoutJobs(t *testing.T) {
	s := New(Config{WarmInterval: time.Hour}, &fakeService{})
	require.NoError(t, s.Start())
	s.Stop()
}

func TestStartRunsPurgeJob(t *testing.T) {
	svc := &fakeService{}
	s := New(Config{PurgeInterval: 50 * time.Millisecond, PurgeMaxAge: time.Hour}, svc)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return svc.purgeCount() > 0 }, 2*time.Second, 10*time.Millisecond)
}
