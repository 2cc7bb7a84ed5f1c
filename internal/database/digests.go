package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Digest represents one batched consolidation of queued digest-kind
// deliveries for a (user, channel, period, window) tuple.
type Digest struct {
	ID            int64
	DigestKey     string
	UserID        int64
	Channel       string
	Period        string
	WindowStart   time.Time
	Status        string
	ItemCount     int
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// DigestCandidate groups the queued digest-kind deliveries of one
// (user, channel) pair inside a window.
type DigestCandidate struct {
	UserID      int64
	Channel     string
	DeliveryIDs []int64
}

// ListDigestCandidates finds every (user, channel) with at least one queued
// digest-kind delivery created inside the half-open window [start, end).
func (db *DB) ListDigestCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*DigestCandidate, error) {
	query := `
		SELECT user_id, channel, id
		FROM user_alert_deliveries
		WHERE delivery_kind = 'digest'
		  AND status = 'queued'
		  AND created_at >= $1
		  AND created_at < $2
		ORDER BY user_id, channel, id
	`
	rows, err := db.conn.QueryContext(ctx, query, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest candidates: %w", err)
	}
	defer rows.Close()

	var out []*DigestCandidate
	var current *DigestCandidate
	for rows.Next() {
		var userID, deliveryID int64
		var channel string
		if err := rows.Scan(&userID, &channel, &deliveryID); err != nil {
			return nil, fmt.Errorf("failed to scan digest candidate: %w", err)
		}
		if current == nil || current.UserID != userID || current.Channel != channel {
			current = &DigestCandidate{UserID: userID, Channel: channel}
			out = append(out, current)
		}
		current.DeliveryIDs = append(current.DeliveryIDs, deliveryID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating digest candidates: %w", err)
	}
	return out, nil
}

// MaterializeDigest creates one digest for a candidate inside a single
// transaction: insert-if-absent the digest row on its unique digest_key,
// attach the matched deliveries (unique on delivery_id, so items attach at
// most once), flip those deliveries to skipped/batched_into_digest, and
// record the final item count. Re-running for an already-materialized
// window is a no-op. Returns the digest ID when a new digest was created,
// nil when the digest_key already existed or no delivery could be attached.
func (db *DB) MaterializeDigest(ctx context.Context, digestKey string, cand *DigestCandidate, period string, windowStart time.Time) (*int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin digest transaction: %w", err)
	}
	defer tx.Rollback()

	insertDigest := `
		INSERT INTO user_alert_digests (digest_key, user_id, channel, period, window_start, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
		ON CONFLICT (digest_key) DO NOTHING
		RETURNING id
	`
	var digestID int64
	err = tx.QueryRowContext(ctx, insertDigest, digestKey, cand.UserID, cand.Channel, period, windowStart).Scan(&digestID)
	if err == sql.ErrNoRows {
		// Digest already materialized for this window
		slog.Debug("Digest already exists, skipping",
			"digest_key", digestKey,
			"user_id", cand.UserID,
			"channel", cand.Channel,
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert digest: %w", err)
	}

	attached := 0
	attachItem := `
		INSERT INTO user_alert_digest_items (digest_id, delivery_id)
		VALUES ($1, $2)
		ON CONFLICT (delivery_id) DO NOTHING
	`
	batchDelivery := `
		UPDATE user_alert_deliveries
		SET status = 'skipped', last_error = 'batched_into_digest'
		WHERE id = $1 AND status = 'queued'
	`
	for _, deliveryID := range cand.DeliveryIDs {
		result, err := tx.ExecContext(ctx, attachItem, digestID, deliveryID)
		if err != nil {
			return nil, fmt.Errorf("failed to attach digest item: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			// Delivery already consolidated into another digest
			continue
		}
		if _, err := tx.ExecContext(ctx, batchDelivery, deliveryID); err != nil {
			return nil, fmt.Errorf("failed to batch delivery into digest: %w", err)
		}
		attached++
	}

	if attached == 0 {
		// Every candidate delivery was already consolidated elsewhere. An
		// empty digest would never pass the claim filter, so drop it.
		slog.Debug("No deliveries attached, discarding digest",
			"digest_key", digestKey,
			"user_id", cand.UserID,
			"channel", cand.Channel,
		)
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE user_alert_digests SET item_count = $2 WHERE id = $1`, digestID, attached); err != nil {
		return nil, fmt.Errorf("failed to set digest item count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit digest transaction: %w", err)
	}

	slog.Info("Materialized digest",
		"digest_id", digestID,
		"digest_key", digestKey,
		"user_id", cand.UserID,
		"channel", cand.Channel,
		"item_count", attached,
	)

	return &digestID, nil
}

// ClaimPendingDigests claims up to limit pending digests for sending, with
// the same SKIP LOCKED lease pattern as delivery claims.
func (db *DB) ClaimPendingDigests(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*Digest, error) {
	query := `
		UPDATE user_alert_digests g
		SET next_attempt_at = NOW() + make_interval(secs => $2)
		WHERE g.id IN (
			SELECT id
			FROM user_alert_digests
			WHERE status = 'pending'
			  AND next_attempt_at <= NOW()
			  AND item_count > 0
			  AND (cardinality($3::bigint[]) = 0 OR user_id = ANY($3::bigint[]))
			ORDER BY next_attempt_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING g.id, g.digest_key, g.user_id, g.channel, g.period, g.window_start, g.status,
		          g.item_count, g.attempt_count, g.next_attempt_at, COALESCE(g.last_error, ''), g.created_at, g.sent_at
	`

	ids, err := toInt64Array(allowlist)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, limit, lease.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending digests: %w", err)
	}
	defer rows.Close()

	var out []*Digest
	for rows.Next() {
		var g Digest
		if err := rows.Scan(
			&g.ID, &g.DigestKey, &g.UserID, &g.Channel, &g.Period, &g.WindowStart, &g.Status,
			&g.ItemCount, &g.AttemptCount, &g.NextAttemptAt, &g.LastError, &g.CreatedAt, &g.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed digest: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed digests: %w", err)
	}
	return out, nil
}

// DigestItemSummary summarizes one delivery consolidated into a digest, for
// rendering by the channel collaborator.
type DigestItemSummary struct {
	AlertType string
	Region    string
	Severity  int
	Headline  string
	CreatedAt time.Time
}

// ListDigestItems returns summaries of the deliveries a digest consolidates.
func (db *DB) ListDigestItems(ctx context.Context, digestID int64) ([]*DigestItemSummary, error) {
	query := `
		SELECT e.alert_type, e.region, e.severity, COALESCE(e.payload->>'headline', ''), d.created_at
		FROM user_alert_digest_items i
		JOIN user_alert_deliveries d ON d.id = i.delivery_id
		JOIN alert_events e ON e.id = d.alert_event_id
		WHERE i.digest_id = $1
		ORDER BY e.severity DESC, d.created_at ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, digestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest items: %w", err)
	}
	defer rows.Close()

	var out []*DigestItemSummary
	for rows.Next() {
		var item DigestItemSummary
		if err := rows.Scan(&item.AlertType, &item.Region, &item.Severity, &item.Headline, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan digest item: %w", err)
		}
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating digest items: %w", err)
	}
	return out, nil
}

// MarkDigestSent records a successful digest send.
func (db *DB) MarkDigestSent(ctx context.Context, id int64) error {
	query := `
		UPDATE user_alert_digests
		SET status = 'sent', sent_at = NOW(), last_error = NULL
		WHERE id = $1 AND status = 'pending'
	`
	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark digest sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("digest %d not in pending state", id)
	}
	return nil
}

// MarkDigestFailed records a permanent digest failure.
func (db *DB) MarkDigestFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	query := `
		UPDATE user_alert_digests
		SET status = 'failed', attempt_count = $2, last_error = $3
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, attemptCount, truncateError(lastError)); err != nil {
		return fmt.Errorf("failed to mark digest failed: %w", err)
	}
	return nil
}

// RequeueDigest schedules another digest send attempt.
func (db *DB) RequeueDigest(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE user_alert_digests
		SET attempt_count = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, attemptCount, nextAttemptAt, truncateError(lastError)); err != nil {
		return fmt.Errorf("failed to requeue digest: %w", err)
	}
	return nil
}

// DeferDigest pushes a claimed digest to a later attempt without consuming
// an attempt.
func (db *DB) DeferDigest(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	query := `
		UPDATE user_alert_digests
		SET next_attempt_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, nextAttemptAt); err != nil {
		return fmt.Errorf("failed to defer digest: %w", err)
	}
	return nil
}

// ResetFailedDigests resets failed digests matching the filter back to
// pending. Idempotent for the same reason as ResetFailedDeliveries.
func (db *DB) ResetFailedDigests(ctx context.Context, f RetryFilter) (int64, error) {
	query := `
		UPDATE user_alert_digests
		SET status = 'pending', attempt_count = 0, next_attempt_at = NOW(), last_error = NULL
		WHERE status = 'failed'
		  AND ($1 = '' OR channel = $1)
		  AND ($2 = 0 OR user_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
	`
	result, err := db.conn.ExecContext(ctx, query, f.Channel, f.UserID, nullableTime(f.Since))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed digests: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("Reset failed digests to pending", "count", n)
	}
	return n, nil
}

// CountRetryableDigests returns how many failed digests match the filter.
func (db *DB) CountRetryableDigests(ctx context.Context, f RetryFilter) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM user_alert_digests
		WHERE status = 'failed'
		  AND ($1 = '' OR channel = $1)
		  AND ($2 = 0 OR user_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, f.Channel, f.UserID, nullableTime(f.Since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count retryable digests: %w", err)
	}
	return count, nil
}
