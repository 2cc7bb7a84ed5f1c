package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// healthWindow is the trailing window health counts cover.
const healthWindow = 24 * time.Hour

// AdminStore is the read/recovery surface behind the administrative
// operations.
type AdminStore interface {
	Ping(ctx context.Context) error
	CheckRequiredTables(ctx context.Context) ([]string, error)
	GetHealthCounts(ctx context.Context, window time.Duration) (*database.HealthCounts, error)
	ListEngineRuns(ctx context.Context, limit int) ([]*database.EngineRun, error)
	GetEngineRun(ctx context.Context, runID string) (*database.EngineRun, []*database.EngineRunItem, error)
	CountRetryableDeliveries(ctx context.Context, f database.RetryFilter) (int, error)
	CountRetryableDigests(ctx context.Context, f database.RetryFilter) (int, error)
	ResetFailedDeliveries(ctx context.Context, f database.RetryFilter) (int64, error)
	ResetFailedDigests(ctx context.Context, f database.RetryFilter) (int64, error)
}

// Check statuses.
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// Check is one preflight verdict.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Admin exposes the operator surface: preflight, health, run queries, and
// failed-item recovery.
type Admin struct {
	store    AdminStore
	registry *channel.Registry
	engine   *Engine
}

// NewAdmin creates the administrative surface. engine may be nil when only
// read operations are served.
func NewAdmin(store AdminStore, registry *channel.Registry, eng *Engine) *Admin {
	return &Admin{store: store, registry: registry, engine: eng}
}

// Preflight validates storage connectivity, required tables, and channel
// configuration. An unconfigured channel is a warning: the executor skips
// its deliveries with a reason instead of failing them.
func (a *Admin) Preflight(ctx context.Context) []Check {
	var checks []Check

	if err := a.store.Ping(ctx); err != nil {
		checks = append(checks, Check{Name: "storage", Status: CheckFail, Detail: err.Error()})
		// Nothing else is checkable without storage.
		return checks
	}
	checks = append(checks, Check{Name: "storage", Status: CheckPass})

	missing, err := a.store.CheckRequiredTables(ctx)
	switch {
	case err != nil:
		checks = append(checks, Check{Name: "tables", Status: CheckFail, Detail: err.Error()})
	case len(missing) > 0:
		checks = append(checks, Check{Name: "tables", Status: CheckFail, Detail: fmt.Sprintf("missing tables: %v", missing)})
	default:
		checks = append(checks, Check{Name: "tables", Status: CheckPass})
	}

	for _, ch := range database.Channels {
		name := "channel:" + ch
		sender, ok := a.registry.Get(ch)
		switch {
		case !ok:
			checks = append(checks, Check{Name: name, Status: CheckWarn, Detail: "not registered"})
		case !sender.IsConfigured():
			checks = append(checks, Check{Name: name, Status: CheckWarn, Detail: "not configured, deliveries will be skipped"})
		default:
			checks = append(checks, Check{Name: name, Status: CheckPass})
		}
	}

	return checks
}

// Health returns delivery and digest counts over the trailing window plus
// run staleness data.
func (a *Admin) Health(ctx context.Context) (*database.HealthCounts, error) {
	return a.store.GetHealthCounts(ctx, healthWindow)
}

// ListRuns returns recent engine runs, newest first.
func (a *Admin) ListRuns(ctx context.Context, limit int) ([]*database.EngineRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return a.store.ListEngineRuns(ctx, limit)
}

// RunDetail returns one run with its per-phase breakdown.
func (a *Admin) RunDetail(ctx context.Context, runID string) (*database.EngineRun, []*database.EngineRunItem, error) {
	return a.store.GetEngineRun(ctx, runID)
}

// TriggerRun starts a manual engine run.
func (a *Admin) TriggerRun(ctx context.Context, phase string, dryRun bool) (*RunReport, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("engine runner not available")
	}
	return a.engine.Run(ctx, phase, TriggeredManual, dryRun)
}

// RetryReport summarizes one retry_failed invocation.
type RetryReport struct {
	DryRun     bool  `json:"dry_run"`
	Deliveries int64 `json:"deliveries"`
	Digests    int64 `json:"digests"`
}

// RetryFailed resets failed deliveries and digests matching the filter back
// to their retryable states. Idempotent: repeating the call matches nothing
// because reset rows are no longer failed. With dryRun set it only counts.
func (a *Admin) RetryFailed(ctx context.Context, f database.RetryFilter, dryRun bool) (*RetryReport, error) {
	report := &RetryReport{DryRun: dryRun}

	if dryRun {
		deliveries, err := a.store.CountRetryableDeliveries(ctx, f)
		if err != nil {
			return nil, err
		}
		digests, err := a.store.CountRetryableDigests(ctx, f)
		if err != nil {
			return nil, err
		}
		report.Deliveries = int64(deliveries)
		report.Digests = int64(digests)
		return report, nil
	}

	deliveries, err := a.store.ResetFailedDeliveries(ctx, f)
	if err != nil {
		return nil, err
	}
	digests, err := a.store.ResetFailedDigests(ctx, f)
	if err != nil {
		return nil, err
	}
	report.Deliveries = deliveries
	report.Digests = digests
	return report, nil
}
