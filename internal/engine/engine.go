// Package engine orchestrates the alert distribution phases and wraps every
// invocation in a run record. Phase runs take a phase-scoped advisory lock;
// a run that cannot acquire it exits as a no-op rather than an error.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/digest"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/executor"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/fanout"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/generator"
)

// Engine phases.
const (
	PhaseGenerate = "a"
	PhaseFanout   = "b"
	PhaseDeliver  = "c"
	PhaseDigest   = "d"
	PhaseAll      = "all"
)

// Trigger origins recorded on runs.
const (
	TriggeredScheduled = "scheduled"
	TriggeredManual    = "manual"
	TriggeredLocal     = "local"
)

// phaseOrder is the execution order for phase=all.
var phaseOrder = []string{PhaseGenerate, PhaseFanout, PhaseDeliver, PhaseDigest}

// ValidPhase reports whether phase names a runnable phase.
func ValidPhase(phase string) bool {
	if phase == PhaseAll {
		return true
	}
	for _, p := range phaseOrder {
		if p == phase {
			return true
		}
	}
	return false
}

// Store is the run bookkeeping and lock surface the engine needs.
type Store interface {
	CreateEngineRun(ctx context.Context, runID, phase, triggeredBy string) error
	FinishEngineRun(ctx context.Context, runID, status string, skipped bool, runErr string, counts map[string]int64) error
	AddEngineRunItem(ctx context.Context, runID, phase string, counts map[string]int64) error
	TryPhaseLock(ctx context.Context, phase string) (*database.PhaseLock, error)
}

// SignalSource supplies pending upstream signals to the generation phase.
// Fetch drains whatever is currently available; Commit acknowledges the
// fetched batch upstream after generation has persisted it. Nil is a valid
// source: generation then has nothing to process, which is the normal case
// when intake runs as a separate consumer process.
type SignalSource interface {
	Fetch(ctx context.Context) ([]*events.ScoredSignal, error)
	Commit(ctx context.Context) error
}

// Phase processors, narrowed for substitution in tests.
type (
	GeneratePhase interface {
		Process(ctx context.Context, signals []*events.ScoredSignal, dryRun bool) (generator.Counts, error)
	}
	FanoutPhase interface {
		Process(ctx context.Context, dryRun bool) (fanout.Counts, error)
	}
	DeliverPhase interface {
		Process(ctx context.Context, dryRun bool) (executor.Counts, error)
	}
	DigestPhase interface {
		Process(ctx context.Context, dryRun bool) (digest.Counts, error)
	}
)

// RunReport summarizes one engine invocation.
type RunReport struct {
	RunID        string                      `json:"run_id"`
	Phase        string                      `json:"phase"`
	DryRun       bool                        `json:"dry_run"`
	Skipped      bool                        `json:"skipped"`
	StoppedEarly bool                        `json:"stopped_early"`
	Counts       map[string]int64            `json:"counts"`
	PhaseCounts  map[string]map[string]int64 `json:"phase_counts,omitempty"`
}

// Engine wires the phase processors under run tracking.
type Engine struct {
	store    Store
	signals  SignalSource
	generate GeneratePhase
	fanout   FanoutPhase
	deliver  DeliverPhase
	digest   DigestPhase
}

// NewEngine creates an engine over the given store and phase processors.
// signals may be nil when intake happens out of band.
func NewEngine(store Store, signals SignalSource, generate GeneratePhase, fan FanoutPhase, deliver DeliverPhase, dig DigestPhase) *Engine {
	return &Engine{
		store:    store,
		signals:  signals,
		generate: generate,
		fanout:   fan,
		deliver:  deliver,
		digest:   dig,
	}
}

// Run executes one phase (or all of them in order) under a run record.
// Lock contention is an outcome, not an error: contended phases are skipped
// and the run completes. Dry runs take no locks because they write nothing
// worth protecting, but still leave a run record for the audit trail.
func (e *Engine) Run(ctx context.Context, phase, triggeredBy string, dryRun bool) (*RunReport, error) {
	if !ValidPhase(phase) {
		return nil, fmt.Errorf("unknown phase: %q", phase)
	}

	report := &RunReport{
		RunID:       uuid.NewString(),
		Phase:       phase,
		DryRun:      dryRun,
		Counts:      make(map[string]int64),
		PhaseCounts: make(map[string]map[string]int64),
	}

	if err := e.store.CreateEngineRun(ctx, report.RunID, phase, triggeredBy); err != nil {
		return nil, err
	}

	phases := []string{phase}
	if phase == PhaseAll {
		phases = phaseOrder
	}

	started := time.Now()
	skippedAll := true
	for _, p := range phases {
		counts, ran, err := e.runPhase(ctx, p, dryRun)
		if err != nil {
			if finishErr := e.store.FinishEngineRun(ctx, report.RunID, database.RunFailed, false, err.Error(), report.Counts); finishErr != nil {
				slog.Error("Failed to record failed run", "run_id", report.RunID, "error", finishErr)
			}
			return report, fmt.Errorf("phase %s: %w", p, err)
		}
		if !ran {
			counts = map[string]int64{"skipped": 1}
		} else {
			skippedAll = false
		}

		report.PhaseCounts[p] = counts
		for k, v := range counts {
			report.Counts[k] += v
		}
		if counts["stopped_early"] > 0 {
			report.StoppedEarly = true
		}

		if phase == PhaseAll {
			if err := e.store.AddEngineRunItem(ctx, report.RunID, p, counts); err != nil {
				slog.Error("Failed to record run item", "run_id", report.RunID, "phase", p, "error", err)
			}
		}
	}
	report.Skipped = skippedAll

	if err := e.store.FinishEngineRun(ctx, report.RunID, database.RunCompleted, report.Skipped, "", report.Counts); err != nil {
		return report, err
	}

	slog.Info("Engine run finished",
		"run_id", report.RunID,
		"phase", phase,
		"triggered_by", triggeredBy,
		"dry_run", dryRun,
		"skipped", report.Skipped,
		"stopped_early", report.StoppedEarly,
		"duration", time.Since(started),
	)
	return report, nil
}

// runPhase executes one phase under its advisory lock. ran=false means the
// lock was held elsewhere and the phase was skipped.
func (e *Engine) runPhase(ctx context.Context, phase string, dryRun bool) (counts map[string]int64, ran bool, err error) {
	if !dryRun {
		lock, err := e.store.TryPhaseLock(ctx, phase)
		if err != nil {
			return nil, false, err
		}
		if lock == nil {
			return nil, false, nil
		}
		defer func() {
			if unlockErr := lock.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
				slog.Error("Failed to release phase lock", "phase", phase, "error", unlockErr)
			}
		}()
	}

	switch phase {
	case PhaseGenerate:
		// Dry runs never fetch: draining the source consumes the batch
		// upstream, and a dry run must leave it for the next real run.
		var signals []*events.ScoredSignal
		if !dryRun {
			var err error
			signals, err = e.fetchSignals(ctx)
			if err != nil {
				return nil, true, err
			}
		}
		c, err := e.generate.Process(ctx, signals, dryRun)
		if err != nil {
			return nil, true, err
		}
		if !dryRun && e.signals != nil {
			if err := e.signals.Commit(ctx); err != nil {
				return nil, true, fmt.Errorf("failed to commit signal batch: %w", err)
			}
		}
		return map[string]int64{
			"signals":           int64(len(signals)),
			"created":           c.Created,
			"duplicate_skipped": c.DuplicateSkipped,
			"below_floor":       c.BelowFloor,
			"invalid":           c.Invalid,
		}, true, nil

	case PhaseFanout:
		c, err := e.fanout.Process(ctx, dryRun)
		if err != nil {
			return nil, true, err
		}
		return map[string]int64{
			"events":             c.Events,
			"deliveries_created": c.DeliveriesCreated,
			"duplicates_skipped": c.DuplicatesSkipped,
		}, true, nil

	case PhaseDeliver:
		c, err := e.deliver.Process(ctx, dryRun)
		if err != nil {
			return nil, true, err
		}
		out := map[string]int64{
			"claimed":      c.Claimed,
			"sent":         c.Sent,
			"digests_sent": c.DigestsSent,
			"requeued":     c.Requeued,
			"failed":       c.Failed,
			"skipped":      c.Skipped,
			"deferred":     c.Deferred,
		}
		if c.StoppedEarly {
			out["stopped_early"] = 1
		}
		return out, true, nil

	case PhaseDigest:
		c, err := e.digest.Process(ctx, dryRun)
		if err != nil {
			return nil, true, err
		}
		return map[string]int64{
			"candidates":      c.Candidates,
			"digests_created": c.DigestsCreated,
			"already_existed": c.AlreadyExisted,
			"items_batched":   c.ItemsBatched,
		}, true, nil
	}

	return nil, false, fmt.Errorf("unknown phase: %q", phase)
}

func (e *Engine) fetchSignals(ctx context.Context) ([]*events.ScoredSignal, error) {
	if e.signals == nil {
		return nil, nil
	}
	return e.signals.Fetch(ctx)
}
