// Package digest groups queued digest-kind deliveries into time-windowed
// digest batches (phase D), idempotently per (user, channel, window).
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/config"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// DigestStore persists digest batches.
type DigestStore interface {
	ListDigestCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*database.DigestCandidate, error)
	MaterializeDigest(ctx context.Context, digestKey string, cand *database.DigestCandidate, period string, windowStart time.Time) (*int64, error)
}

// Counts summarizes one aggregation pass.
type Counts struct {
	Candidates     int64 `json:"candidates"`
	DigestsCreated int64 `json:"digests_created"`
	AlreadyExisted int64 `json:"already_existed"`
	ItemsBatched   int64 `json:"items_batched"`
}

// Aggregator batches digest-kind deliveries per window.
type Aggregator struct {
	store  DigestStore
	period string
	now    func() time.Time
}

// NewAggregator creates an aggregator for the configured period
// (daily or hourly).
func NewAggregator(store DigestStore, period string) *Aggregator {
	return &Aggregator{
		store:  store,
		period: period,
		now:    time.Now,
	}
}

// Window returns the current half-open aggregation window [start, end).
// Daily: [yesterday 00:00 UTC, today 00:00 UTC). Hourly: the previous
// clock hour. An item created at exactly the window end belongs to the
// next window.
func (a *Aggregator) Window() (time.Time, time.Time) {
	now := a.now().UTC()
	switch a.period {
	case config.DigestHourly:
		end := now.Truncate(time.Hour)
		return end.Add(-time.Hour), end
	default:
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return end.AddDate(0, 0, -1), end
	}
}

// Key returns the deterministic digest key for a (user, channel, period,
// window start) tuple.
func Key(userID int64, channel, period string, windowStart time.Time) string {
	return fmt.Sprintf("%d|%s|%s|%s", userID, channel, period, windowStart.UTC().Format(time.RFC3339))
}

// Process materializes one digest per (user, channel) with queued
// digest-kind deliveries inside the current window. Re-running for an
// already-materialized window is a no-op: the digest key is unique and
// items attach at most once. When dryRun is set, candidates are counted
// but nothing is written.
func (a *Aggregator) Process(ctx context.Context, dryRun bool) (Counts, error) {
	var counts Counts

	windowStart, windowEnd := a.Window()
	slog.Info("Aggregating digests",
		"period", a.period,
		"window_start", windowStart,
		"window_end", windowEnd,
	)

	candidates, err := a.store.ListDigestCandidates(ctx, windowStart, windowEnd)
	if err != nil {
		return counts, err
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		counts.Candidates++

		if dryRun {
			counts.DigestsCreated++
			counts.ItemsBatched += int64(len(cand.DeliveryIDs))
			continue
		}

		key := Key(cand.UserID, cand.Channel, a.period, windowStart)
		id, err := a.store.MaterializeDigest(ctx, key, cand, a.period, windowStart)
		if err != nil {
			return counts, err
		}
		if id == nil {
			counts.AlreadyExisted++
		} else {
			counts.DigestsCreated++
			counts.ItemsBatched += int64(len(cand.DeliveryIDs))
		}
	}

	return counts, nil
}
