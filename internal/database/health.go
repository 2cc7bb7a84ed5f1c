package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HealthCounts aggregates delivery and digest state over a trailing window,
// plus the age of the oldest queued item. This is how stuck or duplicated
// work surfaces without reading individual rows.
type HealthCounts struct {
	Window              time.Duration        `json:"-"`
	DeliveriesByStatus  map[string]int64     `json:"deliveries_by_status"`
	DigestsByStatus     map[string]int64     `json:"digests_by_status"`
	OldestQueuedSeconds *float64             `json:"oldest_queued_seconds,omitempty"`
	LastRunPerPhase     map[string]time.Time `json:"last_run_per_phase,omitempty"`
}

// GetHealthCounts computes delivery/digest status counts over the trailing
// window and the oldest queued delivery age.
func (db *DB) GetHealthCounts(ctx context.Context, window time.Duration) (*HealthCounts, error) {
	since := time.Now().UTC().Add(-window)
	h := &HealthCounts{
		Window:             window,
		DeliveriesByStatus: make(map[string]int64),
		DigestsByStatus:    make(map[string]int64),
	}

	deliveryQuery := `
		SELECT status, COUNT(*)
		FROM user_alert_deliveries
		WHERE created_at >= $1
		GROUP BY status
	`
	if err := db.countByStatus(ctx, deliveryQuery, since, h.DeliveriesByStatus); err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}

	digestQuery := `
		SELECT status, COUNT(*)
		FROM user_alert_digests
		WHERE created_at >= $1
		GROUP BY status
	`
	if err := db.countByStatus(ctx, digestQuery, since, h.DigestsByStatus); err != nil {
		return nil, fmt.Errorf("failed to count digests: %w", err)
	}

	oldestQuery := `
		SELECT EXTRACT(EPOCH FROM NOW() - MIN(created_at))
		FROM user_alert_deliveries
		WHERE status = 'queued'
	`
	var oldest sql.NullFloat64
	if err := db.conn.QueryRowContext(ctx, oldestQuery).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("failed to query oldest queued age: %w", err)
	}
	if oldest.Valid {
		h.OldestQueuedSeconds = &oldest.Float64
	}

	lastRuns, err := db.LastRunPerPhase(ctx)
	if err != nil {
		return nil, err
	}
	if len(lastRuns) > 0 {
		h.LastRunPerPhase = lastRuns
	}

	return h, nil
}

// CountDueWork returns how many instant deliveries and pending digests are
// currently due for sending. Used by executor dry runs.
func (db *DB) CountDueWork(ctx context.Context) (deliveries, digests int64, err error) {
	deliveryQuery := `
		SELECT COUNT(*)
		FROM user_alert_deliveries
		WHERE status = 'queued' AND delivery_kind = 'instant' AND next_attempt_at <= NOW()
	`
	if err := db.conn.QueryRowContext(ctx, deliveryQuery).Scan(&deliveries); err != nil {
		return 0, 0, fmt.Errorf("failed to count due deliveries: %w", err)
	}

	digestQuery := `
		SELECT COUNT(*)
		FROM user_alert_digests
		WHERE status = 'pending' AND next_attempt_at <= NOW() AND item_count > 0
	`
	if err := db.conn.QueryRowContext(ctx, digestQuery).Scan(&digests); err != nil {
		return 0, 0, fmt.Errorf("failed to count due digests: %w", err)
	}
	return deliveries, digests, nil
}

func (db *DB) countByStatus(ctx context.Context, query string, since time.Time, dest map[string]int64) error {
	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		dest[status] = count
	}
	return rows.Err()
}
