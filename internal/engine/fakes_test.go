package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/digest"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/executor"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/fanout"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/generator"
)

// fakeRunStore implements Store and AdminStore in memory.
type fakeRunStore struct {
	runs      map[string]*database.EngineRun
	items     []*database.EngineRunItem
	lockedOut map[string]bool // phases whose lock is held elsewhere

	pingErr       error
	missingTables []string
	health        *database.HealthCounts

	retryableDeliveries int
	retryableDigests    int
	resetDeliveries     int64
	resetDigests        int64
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:      make(map[string]*database.EngineRun),
		lockedOut: make(map[string]bool),
	}
}

func (s *fakeRunStore) CreateEngineRun(ctx context.Context, runID, phase, triggeredBy string) error {
	s.runs[runID] = &database.EngineRun{
		RunID:       runID,
		Phase:       phase,
		TriggeredBy: triggeredBy,
		Status:      database.RunRunning,
		StartedAt:   time.Now(),
	}
	return nil
}

func (s *fakeRunStore) FinishEngineRun(ctx context.Context, runID, status string, skipped bool, runErr string, counts map[string]int64) error {
	run := s.runs[runID]
	run.Status = status
	run.Skipped = skipped
	run.Error = runErr
	run.Counts = counts
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

func (s *fakeRunStore) AddEngineRunItem(ctx context.Context, runID, phase string, counts map[string]int64) error {
	s.items = append(s.items, &database.EngineRunItem{RunID: runID, Phase: phase, Counts: counts})
	return nil
}

func (s *fakeRunStore) TryPhaseLock(ctx context.Context, phase string) (*database.PhaseLock, error) {
	if s.lockedOut[phase] {
		return nil, nil
	}
	// Zero-value lock: Unlock on a lock without a connection is a no-op.
	return &database.PhaseLock{}, nil
}

func (s *fakeRunStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeRunStore) CheckRequiredTables(ctx context.Context) ([]string, error) {
	return s.missingTables, nil
}

func (s *fakeRunStore) GetHealthCounts(ctx context.Context, window time.Duration) (*database.HealthCounts, error) {
	return s.health, nil
}

func (s *fakeRunStore) ListEngineRuns(ctx context.Context, limit int) ([]*database.EngineRun, error) {
	out := make([]*database.EngineRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeRunStore) GetEngineRun(ctx context.Context, runID string) (*database.EngineRun, []*database.EngineRunItem, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil, fmt.Errorf("engine run not found: %s", runID)
	}
	var items []*database.EngineRunItem
	for _, it := range s.items {
		if it.RunID == runID {
			items = append(items, it)
		}
	}
	return run, items, nil
}

func (s *fakeRunStore) CountRetryableDeliveries(ctx context.Context, f database.RetryFilter) (int, error) {
	return s.retryableDeliveries, nil
}

func (s *fakeRunStore) CountRetryableDigests(ctx context.Context, f database.RetryFilter) (int, error) {
	return s.retryableDigests, nil
}

func (s *fakeRunStore) ResetFailedDeliveries(ctx context.Context, f database.RetryFilter) (int64, error) {
	s.resetDeliveries++
	return s.resetDeliveries, nil
}

func (s *fakeRunStore) ResetFailedDigests(ctx context.Context, f database.RetryFilter) (int64, error) {
	s.resetDigests++
	return s.resetDigests, nil
}

// Phase fakes with canned counts and injectable errors.

type fakeGenerate struct {
	counts      generator.Counts
	err         error
	calls       int
	lastSignals []*events.ScoredSignal
}

func (f *fakeGenerate) Process(ctx context.Context, signals []*events.ScoredSignal, dryRun bool) (generator.Counts, error) {
	f.calls++
	f.lastSignals = signals
	return f.counts, f.err
}

// fakeSignalSource hands out a canned batch and records the fetch/commit
// sequence.
type fakeSignalSource struct {
	signals   []*events.ScoredSignal
	fetchErr  error
	commitErr error
	fetches   int
	commits   int
}

func (s *fakeSignalSource) Fetch(ctx context.Context) ([]*events.ScoredSignal, error) {
	s.fetches++
	return s.signals, s.fetchErr
}

func (s *fakeSignalSource) Commit(ctx context.Context) error {
	s.commits++
	return s.commitErr
}

type fakeFanout struct {
	counts fanout.Counts
	err    error
	calls  int
}

func (f *fakeFanout) Process(ctx context.Context, dryRun bool) (fanout.Counts, error) {
	f.calls++
	return f.counts, f.err
}

type fakeDeliver struct {
	counts executor.Counts
	err    error
	calls  int
}

func (f *fakeDeliver) Process(ctx context.Context, dryRun bool) (executor.Counts, error) {
	f.calls++
	return f.counts, f.err
}

type fakeDigest struct {
	counts digest.Counts
	err    error
	calls  int
}

func (f *fakeDigest) Process(ctx context.Context, dryRun bool) (digest.Counts, error) {
	f.calls++
	return f.counts, f.err
}
