package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Delivery represents one delivery obligation: a (user, alert event,
// channel) row. Created by fan-out, mutated only by the executor (status
// and attempt transitions) or the digest aggregator (batching).
type Delivery struct {
	ID            int64
	UserID        int64
	AlertEventID  int64
	Channel       string
	DeliveryKind  string
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time

	// Joined alert event fields, populated by claim queries for rendering.
	AlertType string
	Region    string
	Severity  int
	Headline  string
}

// InsertDeliveryIdempotent materializes one delivery obligation with
// idempotency protection on the (user_id, alert_event_id, channel)
// uniqueness constraint. Returns the delivery ID if a new row was inserted,
// or nil if the obligation already existed.
func (db *DB) InsertDeliveryIdempotent(ctx context.Context, userID, alertEventID int64, channel, kind string) (*int64, error) {
	query := `
		INSERT INTO user_alert_deliveries (user_id, alert_event_id, channel, delivery_kind, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'queued', NOW())
		ON CONFLICT (user_id, alert_event_id, channel) DO NOTHING
		RETURNING id
	`

	var id int64
	err := db.conn.QueryRowContext(ctx, query, userID, alertEventID, channel, kind).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			slog.Debug("Delivery already exists, skipping",
				"user_id", userID,
				"alert_event_id", alertEventID,
				"channel", channel,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert delivery: %w", err)
	}

	return &id, nil
}

// ClaimDueDeliveries claims up to limit due instant deliveries for sending.
// The claim is a single statement over a FOR UPDATE SKIP LOCKED selection,
// so concurrent executors partition the queue without double-claiming.
// Claimed rows have next_attempt_at pushed out by lease; a crashed executor
// therefore releases its claim when the lease expires. When allowlist is
// non-empty, only those users' deliveries are claimed; everyone else's stay
// queued untouched.
func (db *DB) ClaimDueDeliveries(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*Delivery, error) {
	query := `
		UPDATE user_alert_deliveries d
		SET next_attempt_at = NOW() + make_interval(secs => $2)
		FROM alert_events e
		WHERE d.id IN (
			SELECT id
			FROM user_alert_deliveries
			WHERE status = 'queued'
			  AND delivery_kind = 'instant'
			  AND next_attempt_at <= NOW()
			  AND (cardinality($3::bigint[]) = 0 OR user_id = ANY($3::bigint[]))
			ORDER BY next_attempt_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		AND e.id = d.alert_event_id
		RETURNING d.id, d.user_id, d.alert_event_id, d.channel, d.delivery_kind, d.status,
		          d.attempt_count, d.next_attempt_at, COALESCE(d.last_error, ''), d.created_at, d.sent_at,
		          e.alert_type, e.region, e.severity, COALESCE(e.payload->>'headline', '')
	`

	ids, err := toInt64Array(allowlist)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, limit, lease.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.AlertEventID, &d.Channel, &d.DeliveryKind, &d.Status,
			&d.AttemptCount, &d.NextAttemptAt, &d.LastError, &d.CreatedAt, &d.SentAt,
			&d.AlertType, &d.Region, &d.Severity, &d.Headline,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed delivery: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed deliveries: %w", err)
	}
	return out, nil
}

// MarkDeliverySent records a successful send. Guards on status=queued so a
// row can transition to sent at most once.
func (db *DB) MarkDeliverySent(ctx context.Context, id int64) error {
	query := `
		UPDATE user_alert_deliveries
		SET status = 'sent', sent_at = NOW(), last_error = NULL
		WHERE id = $1 AND status = 'queued'
	`
	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %d not in queued state", id)
	}
	return nil
}

// MarkDeliveryFailed records a permanent failure. No further attempts.
func (db *DB) MarkDeliveryFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	query := `
		UPDATE user_alert_deliveries
		SET status = 'failed', attempt_count = $2, last_error = $3
		WHERE id = $1 AND status = 'queued'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, attemptCount, truncateError(lastError)); err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return nil
}

// MarkDeliverySkipped records a skip (misconfiguration, digest batching).
func (db *DB) MarkDeliverySkipped(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE user_alert_deliveries
		SET status = 'skipped', last_error = $2
		WHERE id = $1 AND status = 'queued'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to mark delivery skipped: %w", err)
	}
	return nil
}

// RequeueDelivery schedules another attempt after a transient failure.
func (db *DB) RequeueDelivery(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE user_alert_deliveries
		SET attempt_count = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1 AND status = 'queued'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, attemptCount, nextAttemptAt, truncateError(lastError)); err != nil {
		return fmt.Errorf("failed to requeue delivery: %w", err)
	}
	return nil
}

// DeferDelivery pushes a claimed delivery to a later attempt without
// consuming an attempt (rate limiting, circuit breaker overflow).
func (db *DB) DeferDelivery(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	query := `
		UPDATE user_alert_deliveries
		SET next_attempt_at = $2
		WHERE id = $1 AND status = 'queued'
	`
	if _, err := db.conn.ExecContext(ctx, query, id, nextAttemptAt); err != nil {
		return fmt.Errorf("failed to defer delivery: %w", err)
	}
	return nil
}

// CountDeliveriesCreatedSince returns how many deliveries of one alert type
// were created for a user since the given time. Used for the rolling daily
// quota check.
func (db *DB) CountDeliveriesCreatedSince(ctx context.Context, userID int64, alertType string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT d.alert_event_id)
		FROM user_alert_deliveries d
		JOIN alert_events e ON e.id = d.alert_event_id
		WHERE d.user_id = $1 AND e.alert_type = $2 AND d.created_at >= $3
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, userID, alertType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count deliveries for quota: %w", err)
	}
	return count, nil
}

// LatestDeliveryCreatedAt returns the creation time of the most recent
// delivery of one alert type for a user, or nil if none exists. Used for
// the cooldown check.
func (db *DB) LatestDeliveryCreatedAt(ctx context.Context, userID int64, alertType string) (*time.Time, error) {
	query := `
		SELECT MAX(d.created_at)
		FROM user_alert_deliveries d
		JOIN alert_events e ON e.id = d.alert_event_id
		WHERE d.user_id = $1 AND e.alert_type = $2
	`
	var latest sql.NullTime
	if err := db.conn.QueryRowContext(ctx, query, userID, alertType).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to query latest delivery: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// RetryFilter selects failed items for operator-triggered recovery.
// Zero values leave a dimension unfiltered.
type RetryFilter struct {
	Channel   string
	AlertType string
	UserID    int64
	Since     time.Time
}

// CountRetryableDeliveries returns how many failed deliveries match the
// filter. Used for the retry_failed dry-run preview.
func (db *DB) CountRetryableDeliveries(ctx context.Context, f RetryFilter) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM user_alert_deliveries d
		JOIN alert_events e ON e.id = d.alert_event_id
		WHERE d.status = 'failed'
		  AND ($1 = '' OR d.channel = $1)
		  AND ($2 = '' OR e.alert_type = $2)
		  AND ($3 = 0 OR d.user_id = $3)
		  AND ($4::timestamptz IS NULL OR d.created_at >= $4)
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, f.Channel, f.AlertType, f.UserID, nullableTime(f.Since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count retryable deliveries: %w", err)
	}
	return count, nil
}

// ResetFailedDeliveries resets failed deliveries matching the filter back to
// queued with a fresh attempt budget. Idempotent: a second call with the
// same filter matches nothing because the rows are no longer failed.
// Returns the number of deliveries reset.
func (db *DB) ResetFailedDeliveries(ctx context.Context, f RetryFilter) (int64, error) {
	query := `
		UPDATE user_alert_deliveries d
		SET status = 'queued', attempt_count = 0, next_attempt_at = NOW(), last_error = NULL
		FROM alert_events e
		WHERE e.id = d.alert_event_id
		  AND d.status = 'failed'
		  AND ($1 = '' OR d.channel = $1)
		  AND ($2 = '' OR e.alert_type = $2)
		  AND ($3 = 0 OR d.user_id = $3)
		  AND ($4::timestamptz IS NULL OR d.created_at >= $4)
	`
	result, err := db.conn.ExecContext(ctx, query, f.Channel, f.AlertType, f.UserID, nullableTime(f.Since))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed deliveries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("Reset failed deliveries to queued", "count", n)
	}
	return n, nil
}

// truncateError keeps stored error strings to a sane column size.
func truncateError(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}

func toInt64Array(ids []string) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, s := range ids {
		var id int64
		if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid user id in allowlist: %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
