// Package generator converts qualifying upstream scored signals into
// deduplicated alert events (phase A). Severity gating happens here; the
// fingerprint uniqueness constraint absorbs duplicates.
package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/fingerprint"
)

// AlertStore persists alert events for deduplication.
type AlertStore interface {
	// InsertAlertEventIdempotent inserts an alert event with idempotency
	// protection. Returns the event ID if a new row was inserted, or nil
	// if it already existed.
	InsertAlertEventIdempotent(ctx context.Context, ev *database.AlertEvent) (*int64, error)
}

// MetricsRecorder records generation metrics.
type MetricsRecorder interface {
	RecordReceived()
	RecordProcessed(latency time.Duration)
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics is a MetricsRecorder that discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordReceived()               {}
func (NoOpMetrics) RecordProcessed(time.Duration) {}
func (NoOpMetrics) RecordError()                  {}
func (NoOpMetrics) IncrementCustom(string)        {}

// Counts summarizes one generation pass.
type Counts struct {
	Created          int64 `json:"created"`
	DuplicateSkipped int64 `json:"duplicate_skipped"`
	BelowFloor       int64 `json:"below_floor"`
	Invalid          int64 `json:"invalid"`
}

// Generator applies severity gates and inserts new alert events under
// fingerprint uniqueness.
type Generator struct {
	store        AlertStore
	defaultFloor int
	floors       map[string]int
	metrics      MetricsRecorder
}

// NewGenerator creates a generator with the given severity floors. Types
// absent from floors use defaultFloor. Severity floors are configuration,
// passed at construction rather than read from ambient state.
func NewGenerator(store AlertStore, defaultFloor int, floors map[string]int) *Generator {
	return NewGeneratorWithMetrics(store, defaultFloor, floors, nil)
}

// NewGeneratorWithMetrics creates a generator with the provided metrics
// recorder. If m is nil, a no-op implementation is used.
func NewGeneratorWithMetrics(store AlertStore, defaultFloor int, floors map[string]int, m MetricsRecorder) *Generator {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &Generator{
		store:        store,
		defaultFloor: defaultFloor,
		floors:       floors,
		metrics:      m,
	}
}

// floorFor returns the configured severity floor for an alert type.
func (g *Generator) floorFor(alertType string) int {
	if floor, ok := g.floors[alertType]; ok {
		return floor
	}
	return g.defaultFloor
}

// Process runs one generation pass over a batch of scored signals. Running
// the same batch twice creates the same alert event set as running it once:
// the second pass reports everything as duplicate_skipped. When dryRun is
// set, gates are evaluated but nothing is written.
func (g *Generator) Process(ctx context.Context, signals []*events.ScoredSignal, dryRun bool) (Counts, error) {
	var counts Counts

	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		start := time.Now()
		g.metrics.RecordReceived()

		fp, err := fingerprint.ForSignal(sig)
		if err != nil {
			// Malformed upstream signal: counted and dropped, never fatal.
			counts.Invalid++
			g.metrics.RecordError()
			slog.Warn("Rejected invalid scored signal",
				"alert_type", sig.AlertType,
				"region", sig.Region,
				"error", err,
			)
			continue
		}

		if sig.Severity < g.floorFor(sig.AlertType) {
			counts.BelowFloor++
			g.metrics.IncrementCustom("signals_below_floor")
			slog.Debug("Signal below severity floor",
				"alert_type", sig.AlertType,
				"severity", sig.Severity,
				"floor", g.floorFor(sig.AlertType),
			)
			continue
		}

		if dryRun {
			counts.Created++
			continue
		}

		id, err := g.store.InsertAlertEventIdempotent(ctx, &database.AlertEvent{
			AlertType:   sig.AlertType,
			Fingerprint: fp,
			Severity:    sig.Severity,
			Region:      sig.Region,
			Asset:       sig.Asset,
			Payload: database.AlertPayload{
				Headline: sig.Headline,
				Drivers:  sig.Drivers,
				Scores:   sig.Scores,
			},
		})
		if err != nil {
			g.metrics.RecordError()
			return counts, err
		}

		if id == nil {
			// Uniqueness conflict: already generated, a successful no-op.
			counts.DuplicateSkipped++
			g.metrics.IncrementCustom("alerts_deduplicated")
		} else {
			counts.Created++
			g.metrics.IncrementCustom("alerts_created")
		}
		g.metrics.RecordProcessed(time.Since(start))
	}

	return counts, nil
}
