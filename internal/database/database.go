// Package database provides Postgres operations for alert events, delivery
// obligations, digests, and engine runs. Every mutating operation is
// idempotent under re-invocation: inserts land on uniqueness constraints and
// status transitions are monotonic.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Delivery channels supported by the engine.
const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
	ChannelSMS   = "sms"
)

// Channels lists every delivery channel in a stable order.
var Channels = []string{ChannelEmail, ChannelChat, ChannelSMS}

// Delivery statuses.
const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Digest statuses.
const (
	DigestPending = "pending"
	DigestSent    = "sent"
	DigestFailed  = "failed"
)

// Delivery kinds.
const (
	KindInstant = "instant"
	KindDigest  = "digest"
)

// Skip reasons recorded in last_error.
const (
	ReasonBatchedIntoDigest    = "batched_into_digest"
	ReasonChannelNotConfigured = "channel_not_configured"
)

// DB wraps a database connection and provides engine storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// Ping verifies the storage connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// requiredTables are the tables the engine needs to operate.
var requiredTables = []string{
	"alert_events",
	"user_alert_deliveries",
	"user_alert_digests",
	"user_alert_digest_items",
	"engine_runs",
	"engine_run_items",
	"users",
	"plan_entitlements",
}

// CheckRequiredTables returns the subset of required tables missing from the
// connected database.
func (db *DB) CheckRequiredTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	var missing []string
	for _, t := range requiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// PhaseLock holds a session-scoped advisory lock for one engine phase.
// Advisory locks live on the session, so the lock pins a dedicated
// connection until released.
type PhaseLock struct {
	conn *sql.Conn
	key  int64
}

// phaseLockKey maps a phase name to a stable advisory lock key.
func phaseLockKey(phase string) int64 {
	h := fnv.New64a()
	h.Write([]byte("dispatch:" + phase))
	return int64(h.Sum64())
}

// TryPhaseLock attempts to take the advisory lock for a phase without
// blocking. Returns (nil, nil) when another run already holds it.
func (db *DB) TryPhaseLock(ctx context.Context, phase string) (*PhaseLock, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for phase lock: %w", err)
	}

	key := phaseLockKey(phase)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to take phase lock: %w", err)
	}
	if !acquired {
		conn.Close()
		slog.Info("Phase lock held elsewhere, skipping", "phase", phase)
		return nil, nil
	}

	return &PhaseLock{conn: conn, key: key}, nil
}

// Unlock releases the advisory lock and returns its connection to the pool.
func (l *PhaseLock) Unlock(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("failed to release phase lock: %w", err)
	}
	return closeErr
}
