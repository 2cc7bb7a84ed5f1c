package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// UserEntitlement joins a user with their plan's entitlements and their
// per-user preference sets. Plan data is owned by the external plan
// management service; this engine only reads it.
type UserEntitlement struct {
	UserID           int64
	PlanTier         string
	AllowedTypes     []string
	AllowedChannels  []string
	RealtimeChannels []string
	MaxPerDay        int
	CooldownMinutes  int
	Regions          []string // empty = unrestricted
	Assets           []string // empty = unrestricted
}

// ListEntitledUsers returns every active user whose plan entitlement
// includes the given alert type, with their channel and preference data.
func (db *DB) ListEntitledUsers(ctx context.Context, alertType string) ([]*UserEntitlement, error) {
	query := `
		SELECT u.id, u.plan_tier,
		       p.alert_types, p.channels, p.realtime_channels, p.max_per_day, p.cooldown_minutes,
		       COALESCE(u.pref_regions, '{}'), COALESCE(u.pref_assets, '{}')
		FROM users u
		JOIN plan_entitlements p ON p.plan_tier = u.plan_tier
		WHERE u.active = TRUE
		  AND $1 = ANY(p.alert_types)
		ORDER BY u.id
	`
	rows, err := db.conn.QueryContext(ctx, query, alertType)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitled users: %w", err)
	}
	defer rows.Close()

	var out []*UserEntitlement
	for rows.Next() {
		var e UserEntitlement
		if err := rows.Scan(
			&e.UserID,
			&e.PlanTier,
			pq.Array(&e.AllowedTypes),
			pq.Array(&e.AllowedChannels),
			pq.Array(&e.RealtimeChannels),
			&e.MaxPerDay,
			&e.CooldownMinutes,
			pq.Array(&e.Regions),
			pq.Array(&e.Assets),
		); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entitlements: %w", err)
	}
	return out, nil
}

// Contact holds a user's per-channel recipient identities.
type Contact struct {
	UserID      int64
	Email       string
	ChatWebhook string
	SMSNumber   string
}

// GetContact returns the recipient identities for a user.
func (db *DB) GetContact(ctx context.Context, userID int64) (*Contact, error) {
	query := `
		SELECT id, COALESCE(email, ''), COALESCE(chat_webhook, ''), COALESCE(sms_number, '')
		FROM users
		WHERE id = $1
	`
	var c Contact
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Email, &c.ChatWebhook, &c.SMSNumber)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

// Recipient returns the recipient identity for a user on a channel, or an
// empty string when the user has none configured.
func (c *Contact) Recipient(channel string) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelChat:
		return c.ChatWebhook
	case ChannelSMS:
		return c.SMSNumber
	default:
		return ""
	}
}
