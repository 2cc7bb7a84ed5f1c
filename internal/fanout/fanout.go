// Package fanout materializes delivery obligations (phase B): one
// user_alert_deliveries row per tuple the entitlement resolver produces.
// Every insert lands on the (user_id, alert_event_id, channel) uniqueness
// constraint, so processing an event any number of times yields the same
// delivery set as processing it once.
package fanout

import (
	"context"
	"log/slog"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/entitlement"
)

// DeliveryStore persists delivery obligations and the fan-out marker.
type DeliveryStore interface {
	ListEventsPendingFanout(ctx context.Context, limit int) ([]*database.AlertEvent, error)
	InsertDeliveryIdempotent(ctx context.Context, userID, alertEventID int64, channel, kind string) (*int64, error)
	MarkFanoutComplete(ctx context.Context, eventID int64) error
}

// TargetResolver computes the entitled target set for one event.
type TargetResolver interface {
	Resolve(ctx context.Context, event *database.AlertEvent) ([]entitlement.Target, error)
}

// Counts summarizes one fan-out pass.
type Counts struct {
	Events            int64 `json:"events"`
	DeliveriesCreated int64 `json:"deliveries_created"`
	DuplicatesSkipped int64 `json:"duplicates_skipped"`
}

// Engine fans alert events out to delivery obligations.
type Engine struct {
	store     DeliveryStore
	resolver  TargetResolver
	batchSize int
}

// NewEngine creates a fan-out engine.
func NewEngine(store DeliveryStore, resolver TargetResolver) *Engine {
	return &Engine{
		store:     store,
		resolver:  resolver,
		batchSize: 500,
	}
}

// Process fans out every event not yet marked complete. The completion
// marker only saves re-resolving entitlements on later runs; correctness
// comes from the insert uniqueness constraint. When dryRun is set, targets
// are resolved and counted but nothing is written.
func (e *Engine) Process(ctx context.Context, dryRun bool) (Counts, error) {
	var counts Counts

	pending, err := e.store.ListEventsPendingFanout(ctx, e.batchSize)
	if err != nil {
		return counts, err
	}

	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		targets, err := e.resolver.Resolve(ctx, event)
		if err != nil {
			return counts, err
		}

		counts.Events++

		if dryRun {
			counts.DeliveriesCreated += int64(len(targets))
			continue
		}

		for _, target := range targets {
			id, err := e.store.InsertDeliveryIdempotent(ctx, target.UserID, event.ID, target.Channel, target.Kind)
			if err != nil {
				return counts, err
			}
			if id == nil {
				counts.DuplicatesSkipped++
			} else {
				counts.DeliveriesCreated++
			}
		}

		if err := e.store.MarkFanoutComplete(ctx, event.ID); err != nil {
			return counts, err
		}

		slog.Info("Fanned out alert event",
			"alert_event_id", event.ID,
			"alert_type", event.AlertType,
			"targets", len(targets),
		)
	}

	return counts, nil
}
