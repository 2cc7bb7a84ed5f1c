package api

import (
	"context"
	"fmt"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// fakeAdminStore backs the administrative surface in memory.
type fakeAdminStore struct {
	runs  map[string]*database.EngineRun
	items map[string][]*database.EngineRunItem

	pingErr error
	health  *database.HealthCounts

	retryableDeliveries int
	retryableDigests    int
	resetCalls          int

	lastRetryFilter database.RetryFilter
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		runs:  make(map[string]*database.EngineRun),
		items: make(map[string][]*database.EngineRunItem),
	}
}

func (s *fakeAdminStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeAdminStore) CheckRequiredTables(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *fakeAdminStore) GetHealthCounts(ctx context.Context, window time.Duration) (*database.HealthCounts, error) {
	return s.health, nil
}

func (s *fakeAdminStore) ListEngineRuns(ctx context.Context, limit int) ([]*database.EngineRun, error) {
	out := make([]*database.EngineRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeAdminStore) GetEngineRun(ctx context.Context, runID string) (*database.EngineRun, []*database.EngineRunItem, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil, fmt.Errorf("engine run not found: %s", runID)
	}
	return run, s.items[runID], nil
}

func (s *fakeAdminStore) CountRetryableDeliveries(ctx context.Context, f database.RetryFilter) (int, error) {
	s.lastRetryFilter = f
	return s.retryableDeliveries, nil
}

func (s *fakeAdminStore) CountRetryableDigests(ctx context.Context, f database.RetryFilter) (int, error) {
	return s.retryableDigests, nil
}

func (s *fakeAdminStore) ResetFailedDeliveries(ctx context.Context, f database.RetryFilter) (int64, error) {
	s.resetCalls++
	s.lastRetryFilter = f
	return int64(s.retryableDeliveries), nil
}

func (s *fakeAdminStore) ResetFailedDigests(ctx context.Context, f database.RetryFilter) (int64, error) {
	s.resetCalls++
	return int64(s.retryableDigests), nil
}
