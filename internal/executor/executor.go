// Package executor claims due delivery obligations and digests under a
// skip-locked claim and executes the channel sends (phase C), with
// persisted retry/backoff, a per-run circuit breaker, and per-channel rate
// limiting.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel/payload"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// claimBatchSize bounds one claim round trip.
const claimBatchSize = 100

// claimLease is how long a claimed item stays invisible to other
// executors. A crashed executor's claims expire with the lease.
const claimLease = 10 * time.Minute

// Store is the delivery and digest state the executor reads and mutates.
type Store interface {
	ClaimDueDeliveries(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*database.Delivery, error)
	MarkDeliverySent(ctx context.Context, id int64) error
	MarkDeliveryFailed(ctx context.Context, id int64, attemptCount int, lastError string) error
	MarkDeliverySkipped(ctx context.Context, id int64, reason string) error
	RequeueDelivery(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error
	DeferDelivery(ctx context.Context, id int64, nextAttemptAt time.Time) error

	ClaimPendingDigests(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*database.Digest, error)
	ListDigestItems(ctx context.Context, digestID int64) ([]*database.DigestItemSummary, error)
	MarkDigestSent(ctx context.Context, id int64) error
	MarkDigestFailed(ctx context.Context, id int64, attemptCount int, lastError string) error
	RequeueDigest(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error
	DeferDigest(ctx context.Context, id int64, nextAttemptAt time.Time) error

	CountDueWork(ctx context.Context) (deliveries, digests int64, err error)
}

// Directory resolves users to per-channel recipient identities.
type Directory interface {
	GetContact(ctx context.Context, userID int64) (*database.Contact, error)
}

// MetricsRecorder records delivery outcomes.
type MetricsRecorder interface {
	RecordSent()
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics is a MetricsRecorder that discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordSent()            {}
func (NoOpMetrics) RecordError()           {}
func (NoOpMetrics) IncrementCustom(string) {}

// Options configures executor behavior.
type Options struct {
	MaxAttempts   int
	MaxSendPerRun int
	SendTimeout   time.Duration
	Backoff       BackoffPolicy
	Allowlist     []string // user IDs; empty = disabled
}

// Counts summarizes one execution pass.
type Counts struct {
	Claimed      int64 `json:"claimed"`
	Sent         int64 `json:"sent"`
	DigestsSent  int64 `json:"digests_sent"`
	Requeued     int64 `json:"requeued"`
	Failed       int64 `json:"failed"`
	Skipped      int64 `json:"skipped"`
	Deferred     int64 `json:"deferred"`
	StoppedEarly bool  `json:"stopped_early"`
}

// Executor runs the claim-then-act delivery loop.
type Executor struct {
	store     Store
	directory Directory
	registry  *channel.Registry
	limiters  *ChannelLimiters
	opts      Options
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewExecutor creates a delivery executor without metrics recording.
func NewExecutor(store Store, directory Directory, registry *channel.Registry, limiters *ChannelLimiters, opts Options) *Executor {
	return NewExecutorWithMetrics(store, directory, registry, limiters, opts, nil)
}

// NewExecutorWithMetrics creates a delivery executor with a custom metrics
// recorder. If m is nil, a no-op implementation is used.
func NewExecutorWithMetrics(store Store, directory Directory, registry *channel.Registry, limiters *ChannelLimiters, opts Options, m MetricsRecorder) *Executor {
	if limiters == nil {
		limiters = NewChannelLimiters(nil)
	}
	if m == nil {
		m = NoOpMetrics{}
	}
	return &Executor{
		store:     store,
		directory: directory,
		registry:  registry,
		limiters:  limiters,
		opts:      opts,
		metrics:   m,
		now:       time.Now,
	}
}

// Process claims and executes due work until the queue drains or the
// circuit breaker trips. The breaker counts successful sends across
// deliveries and digests; once MaxSendPerRun is reached the pass stops
// claiming and reports stopped_early, which is an outcome, not an error.
// When dryRun is set nothing is claimed; the pass reports due counts only.
func (x *Executor) Process(ctx context.Context, dryRun bool) (Counts, error) {
	var counts Counts

	if dryRun {
		deliveries, digests, err := x.store.CountDueWork(ctx)
		if err != nil {
			return counts, err
		}
		counts.Claimed = deliveries + digests
		return counts, nil
	}

	// Instant deliveries first, then digests, under one send budget.
	if err := x.processDeliveries(ctx, &counts); err != nil {
		return counts, err
	}
	if !counts.StoppedEarly {
		if err := x.processDigests(ctx, &counts); err != nil {
			return counts, err
		}
	}

	slog.Info("Delivery execution pass finished",
		"claimed", counts.Claimed,
		"sent", counts.Sent,
		"digests_sent", counts.DigestsSent,
		"requeued", counts.Requeued,
		"failed", counts.Failed,
		"skipped", counts.Skipped,
		"deferred", counts.Deferred,
		"stopped_early", counts.StoppedEarly,
	)
	return counts, nil
}

// budgetLeft returns how many successful sends the breaker still allows.
func (x *Executor) budgetLeft(counts *Counts) int {
	return x.opts.MaxSendPerRun - int(counts.Sent+counts.DigestsSent)
}

func (x *Executor) processDeliveries(ctx context.Context, counts *Counts) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		budget := x.budgetLeft(counts)
		if budget <= 0 {
			counts.StoppedEarly = true
			return nil
		}

		batch := claimBatchSize
		if budget < batch {
			batch = budget
		}

		claimed, err := x.store.ClaimDueDeliveries(ctx, batch, claimLease, x.opts.Allowlist)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		counts.Claimed += int64(len(claimed))

		for _, d := range claimed {
			x.executeDelivery(ctx, d, counts)
		}
	}
}

// executeDelivery sends one claimed obligation and records the outcome.
// Per-item failures land on the row, never on the caller.
func (x *Executor) executeDelivery(ctx context.Context, d *database.Delivery, counts *Counts) {
	sender, ok := x.registry.Get(d.Channel)
	if !ok || !sender.IsConfigured() {
		if err := x.store.MarkDeliverySkipped(ctx, d.ID, database.ReasonChannelNotConfigured); err != nil {
			slog.Error("Failed to record skip", "delivery_id", d.ID, "error", err)
		}
		counts.Skipped++
		x.metrics.IncrementCustom("deliveries_skipped")
		return
	}

	if !x.limiters.Allow(d.Channel) {
		// Out of rate budget: push to the next run, no attempt consumed.
		if err := x.store.DeferDelivery(ctx, d.ID, x.now().Add(time.Minute)); err != nil {
			slog.Error("Failed to defer delivery", "delivery_id", d.ID, "error", err)
		}
		counts.Deferred++
		return
	}

	recipient, err := x.recipientFor(ctx, d.UserID, d.Channel)
	if err != nil {
		x.recordDeliveryFailure(ctx, d, counts, err)
		return
	}

	content := payload.BuildAlertContent(d)

	sendCtx, cancel := context.WithTimeout(ctx, x.opts.SendTimeout)
	err = sender.Send(sendCtx, recipient, content)
	cancel()

	if err == nil {
		if err := x.store.MarkDeliverySent(ctx, d.ID); err != nil {
			slog.Error("Failed to record sent delivery", "delivery_id", d.ID, "error", err)
			return
		}
		counts.Sent++
		x.metrics.RecordSent()
		return
	}

	x.recordDeliveryFailure(ctx, d, counts, err)
}

// recordDeliveryFailure applies the retry policy to a failed send.
func (x *Executor) recordDeliveryFailure(ctx context.Context, d *database.Delivery, counts *Counts, sendErr error) {
	attempts := d.AttemptCount + 1

	if channel.IsTransient(sendErr) && attempts < x.opts.MaxAttempts {
		next := x.now().Add(x.opts.Backoff.Next(attempts))
		if err := x.store.RequeueDelivery(ctx, d.ID, attempts, next, sendErr.Error()); err != nil {
			slog.Error("Failed to requeue delivery", "delivery_id", d.ID, "error", err)
			return
		}
		counts.Requeued++
		slog.Warn("Delivery failed, will retry",
			"delivery_id", d.ID,
			"channel", d.Channel,
			"attempt", attempts,
			"next_attempt_at", next,
			"error", sendErr,
		)
		return
	}

	if err := x.store.MarkDeliveryFailed(ctx, d.ID, attempts, sendErr.Error()); err != nil {
		slog.Error("Failed to record failed delivery", "delivery_id", d.ID, "error", err)
		return
	}
	counts.Failed++
	x.metrics.RecordError()
	slog.Error("Delivery failed permanently",
		"delivery_id", d.ID,
		"channel", d.Channel,
		"attempts", attempts,
		"error", sendErr,
	)
}

func (x *Executor) processDigests(ctx context.Context, counts *Counts) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		budget := x.budgetLeft(counts)
		if budget <= 0 {
			counts.StoppedEarly = true
			return nil
		}

		batch := claimBatchSize
		if budget < batch {
			batch = budget
		}

		claimed, err := x.store.ClaimPendingDigests(ctx, batch, claimLease, x.opts.Allowlist)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		counts.Claimed += int64(len(claimed))

		for _, g := range claimed {
			x.executeDigest(ctx, g, counts)
		}
	}
}

// executeDigest sends one claimed digest and records the outcome.
func (x *Executor) executeDigest(ctx context.Context, g *database.Digest, counts *Counts) {
	sender, ok := x.registry.Get(g.Channel)
	if !ok || !sender.IsConfigured() {
		// Digest rows have no skipped status; the row is marked failed,
		// so the pass counts it as failed too.
		if err := x.store.MarkDigestFailed(ctx, g.ID, g.AttemptCount, database.ReasonChannelNotConfigured); err != nil {
			slog.Error("Failed to record unconfigured digest channel", "digest_id", g.ID, "error", err)
		}
		counts.Failed++
		x.metrics.RecordError()
		return
	}

	if !x.limiters.Allow(g.Channel) {
		if err := x.store.DeferDigest(ctx, g.ID, x.now().Add(time.Minute)); err != nil {
			slog.Error("Failed to defer digest", "digest_id", g.ID, "error", err)
		}
		counts.Deferred++
		return
	}

	items, err := x.store.ListDigestItems(ctx, g.ID)
	if err != nil {
		x.recordDigestFailure(ctx, g, counts, err)
		return
	}

	recipient, err := x.recipientFor(ctx, g.UserID, g.Channel)
	if err != nil {
		x.recordDigestFailure(ctx, g, counts, err)
		return
	}

	content := payload.BuildDigestContent(g, items)

	sendCtx, cancel := context.WithTimeout(ctx, x.opts.SendTimeout)
	err = sender.Send(sendCtx, recipient, content)
	cancel()

	if err == nil {
		if err := x.store.MarkDigestSent(ctx, g.ID); err != nil {
			slog.Error("Failed to record sent digest", "digest_id", g.ID, "error", err)
			return
		}
		counts.DigestsSent++
		x.metrics.RecordSent()
		return
	}

	x.recordDigestFailure(ctx, g, counts, err)
}

// recordDigestFailure applies the retry policy to a failed digest send.
func (x *Executor) recordDigestFailure(ctx context.Context, g *database.Digest, counts *Counts, sendErr error) {
	attempts := g.AttemptCount + 1

	if channel.IsTransient(sendErr) && attempts < x.opts.MaxAttempts {
		next := x.now().Add(x.opts.Backoff.Next(attempts))
		if err := x.store.RequeueDigest(ctx, g.ID, attempts, next, sendErr.Error()); err != nil {
			slog.Error("Failed to requeue digest", "digest_id", g.ID, "error", err)
			return
		}
		counts.Requeued++
		return
	}

	if err := x.store.MarkDigestFailed(ctx, g.ID, attempts, sendErr.Error()); err != nil {
		slog.Error("Failed to record failed digest", "digest_id", g.ID, "error", err)
		return
	}
	counts.Failed++
	x.metrics.RecordError()
}

// recipientFor resolves the recipient identity for a user on a channel.
// A missing identity is a permanent failure: retrying won't grow a user an
// email address.
func (x *Executor) recipientFor(ctx context.Context, userID int64, ch string) (string, error) {
	contact, err := x.directory.GetContact(ctx, userID)
	if err != nil {
		return "", err
	}
	recipient := contact.Recipient(ch)
	if recipient == "" {
		return "", channel.Permanent("user %d has no recipient identity for channel %s", userID, ch)
	}
	return recipient, nil
}
