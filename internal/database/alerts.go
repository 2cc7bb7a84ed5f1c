package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// AlertEvent represents a deduplicated alert fact eligible for distribution.
// Immutable once created; retained indefinitely for audit.
type AlertEvent struct {
	ID          int64
	AlertType   string
	Fingerprint string
	Severity    int
	Region      string
	Asset       string
	Payload     AlertPayload
	FanoutAt    *time.Time
	CreatedAt   time.Time
}

// AlertPayload is the opaque structured content of an alert event.
type AlertPayload struct {
	Headline string            `json:"headline"`
	Drivers  []string          `json:"drivers,omitempty"`
	Scores   map[string]string `json:"scores,omitempty"`
}

// InsertAlertEventIdempotent inserts an alert event with idempotency
// protection. Uses INSERT ... ON CONFLICT DO NOTHING RETURNING on the
// (alert_type, fingerprint) uniqueness constraint: this is the dedupe
// boundary. Returns the event ID if a new row was inserted, or nil if an
// event with the same fingerprint already existed.
func (db *DB) InsertAlertEventIdempotent(ctx context.Context, ev *AlertEvent) (*int64, error) {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	query := `
		INSERT INTO alert_events (alert_type, fingerprint, severity, region, asset, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_type, fingerprint) DO NOTHING
		RETURNING id
	`

	var id int64
	err = db.conn.QueryRowContext(ctx, query,
		ev.AlertType,
		ev.Fingerprint,
		ev.Severity,
		ev.Region,
		nullableString(ev.Asset),
		payloadJSON,
	).Scan(&id)

	if err != nil {
		if err == sql.ErrNoRows {
			// No row was inserted (conflict occurred, event already exists)
			slog.Debug("Alert event already exists, skipping",
				"alert_type", ev.AlertType,
				"fingerprint", ev.Fingerprint,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert alert event: %w", err)
	}

	slog.Info("Inserted new alert event",
		"alert_event_id", id,
		"alert_type", ev.AlertType,
		"region", ev.Region,
		"severity", ev.Severity,
	)

	return &id, nil
}

// ListEventsPendingFanout returns alert events not yet marked
// fan-out-complete, oldest first. The marker is an optimization: fan-out
// inserts are idempotent on their own, so re-processing a marked event is
// harmless, just wasted work.
func (db *DB) ListEventsPendingFanout(ctx context.Context, limit int) ([]*AlertEvent, error) {
	query := `
		SELECT id, alert_type, fingerprint, severity, region, COALESCE(asset, ''), payload, fanout_at, created_at
		FROM alert_events
		WHERE fanout_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events pending fanout: %w", err)
	}
	defer rows.Close()

	var out []*AlertEvent
	for rows.Next() {
		ev, err := scanAlertEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert events: %w", err)
	}
	return out, nil
}

// GetAlertEvent retrieves one alert event by ID.
func (db *DB) GetAlertEvent(ctx context.Context, id int64) (*AlertEvent, error) {
	query := `
		SELECT id, alert_type, fingerprint, severity, region, COALESCE(asset, ''), payload, fanout_at, created_at
		FROM alert_events
		WHERE id = $1
	`
	row := db.conn.QueryRowContext(ctx, query, id)
	ev, err := scanAlertEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert event not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// MarkFanoutComplete stamps an alert event as fanned out. Safe to call
// repeatedly; the first stamp wins.
func (db *DB) MarkFanoutComplete(ctx context.Context, eventID int64) error {
	query := `
		UPDATE alert_events
		SET fanout_at = NOW()
		WHERE id = $1 AND fanout_at IS NULL
	`
	if _, err := db.conn.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to mark fanout complete: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlertEvent(s scanner) (*AlertEvent, error) {
	var ev AlertEvent
	var payloadRaw []byte
	if err := s.Scan(
		&ev.ID,
		&ev.AlertType,
		&ev.Fingerprint,
		&ev.Severity,
		&ev.Region,
		&ev.Asset,
		&payloadRaw,
		&ev.FanoutAt,
		&ev.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert event: %w", err)
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &ev.Payload); err != nil {
			slog.Warn("Failed to unmarshal alert payload", "alert_event_id", ev.ID, "error", err)
		}
	}
	return &ev, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
