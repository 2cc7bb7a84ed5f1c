package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// EngineRun captures one phase (or full) invocation of the engine.
// Write-once except for status/finished_at/counts on completion.
type EngineRun struct {
	RunID       string
	Phase       string
	TriggeredBy string
	Status      string
	Skipped     bool
	Error       string
	Counts      map[string]int64
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// EngineRunItem breaks out one phase's counts inside a phase=all run.
type EngineRunItem struct {
	RunID  string
	Phase  string
	Counts map[string]int64
}

// CreateEngineRun records the start of a run.
func (db *DB) CreateEngineRun(ctx context.Context, runID, phase, triggeredBy string) error {
	query := `
		INSERT INTO engine_runs (run_id, phase, triggered_by, status)
		VALUES ($1, $2, $3, 'running')
	`
	if _, err := db.conn.ExecContext(ctx, query, runID, phase, triggeredBy); err != nil {
		return fmt.Errorf("failed to create engine run: %w", err)
	}
	return nil
}

// FinishEngineRun records a run's terminal status, counts, and finish time.
func (db *DB) FinishEngineRun(ctx context.Context, runID, status string, skipped bool, runErr string, counts map[string]int64) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal run counts: %w", err)
	}

	query := `
		UPDATE engine_runs
		SET status = $2, skipped = $3, error = $4, counts = $5, finished_at = NOW()
		WHERE run_id = $1 AND status = 'running'
	`
	result, err := db.conn.ExecContext(ctx, query, runID, status, skipped, nullableString(runErr), countsJSON)
	if err != nil {
		return fmt.Errorf("failed to finish engine run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("engine run not found or already finished: %s", runID)
	}
	return nil
}

// AddEngineRunItem records one phase's counts inside a phase=all run.
func (db *DB) AddEngineRunItem(ctx context.Context, runID, phase string, counts map[string]int64) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal run item counts: %w", err)
	}

	query := `
		INSERT INTO engine_run_items (run_id, phase, counts)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, phase) DO UPDATE SET counts = EXCLUDED.counts
	`
	if _, err := db.conn.ExecContext(ctx, query, runID, phase, countsJSON); err != nil {
		return fmt.Errorf("failed to add engine run item: %w", err)
	}
	return nil
}

// ListEngineRuns returns the most recent runs, newest first.
func (db *DB) ListEngineRuns(ctx context.Context, limit int) ([]*EngineRun, error) {
	query := `
		SELECT run_id, phase, triggered_by, status, skipped, COALESCE(error, ''), COALESCE(counts, '{}'), started_at, finished_at
		FROM engine_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list engine runs: %w", err)
	}
	defer rows.Close()

	var out []*EngineRun
	for rows.Next() {
		run, err := scanEngineRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating engine runs: %w", err)
	}
	return out, nil
}

// GetEngineRun retrieves one run with its per-phase items.
func (db *DB) GetEngineRun(ctx context.Context, runID string) (*EngineRun, []*EngineRunItem, error) {
	query := `
		SELECT run_id, phase, triggered_by, status, skipped, COALESCE(error, ''), COALESCE(counts, '{}'), started_at, finished_at
		FROM engine_runs
		WHERE run_id = $1
	`
	run, err := scanEngineRun(db.conn.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("engine run not found: %s", runID)
	}
	if err != nil {
		return nil, nil, err
	}

	itemQuery := `
		SELECT run_id, phase, COALESCE(counts, '{}')
		FROM engine_run_items
		WHERE run_id = $1
		ORDER BY phase
	`
	rows, err := db.conn.QueryContext(ctx, itemQuery, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query engine run items: %w", err)
	}
	defer rows.Close()

	var items []*EngineRunItem
	for rows.Next() {
		var item EngineRunItem
		var countsRaw []byte
		if err := rows.Scan(&item.RunID, &item.Phase, &countsRaw); err != nil {
			return nil, nil, fmt.Errorf("failed to scan engine run item: %w", err)
		}
		if err := json.Unmarshal(countsRaw, &item.Counts); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal run item counts: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating engine run items: %w", err)
	}

	return run, items, nil
}

// LastRunPerPhase returns the started_at of the most recent completed run
// for each phase, for staleness detection.
func (db *DB) LastRunPerPhase(ctx context.Context) (map[string]time.Time, error) {
	query := `
		SELECT phase, MAX(started_at)
		FROM engine_runs
		WHERE status = 'completed'
		GROUP BY phase
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query last runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var phase string
		var at time.Time
		if err := rows.Scan(&phase, &at); err != nil {
			return nil, fmt.Errorf("failed to scan last run: %w", err)
		}
		out[phase] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating last runs: %w", err)
	}
	return out, nil
}

func scanEngineRun(s scanner) (*EngineRun, error) {
	var run EngineRun
	var countsRaw []byte
	if err := s.Scan(
		&run.RunID,
		&run.Phase,
		&run.TriggeredBy,
		&run.Status,
		&run.Skipped,
		&run.Error,
		&countsRaw,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan engine run: %w", err)
	}
	if err := json.Unmarshal(countsRaw, &run.Counts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run counts: %w", err)
	}
	return &run, nil
}
