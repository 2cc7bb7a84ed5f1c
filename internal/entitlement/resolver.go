// Package entitlement resolves which users receive an alert event, on which
// channels, and in which delivery mode. Resolution is read-only: it derives
// quotas and cooldowns from existing delivery rows on every call, so it is
// safe to re-invoke at any time.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// Target is one (user, channel, delivery kind) tuple eligible to receive an
// alert event.
type Target struct {
	UserID  int64
	Channel string
	Kind    string // instant | digest
}

// Source provides the plan entitlement data owned by the external plan
// management service.
type Source interface {
	// ListEntitledUsers returns every active user whose plan includes the
	// alert type, with channel and preference data.
	ListEntitledUsers(ctx context.Context, alertType string) ([]*database.UserEntitlement, error)
}

// DeliveryHistory provides the delivery counts the quota and cooldown
// checks derive from.
type DeliveryHistory interface {
	// CountDeliveriesCreatedSince counts a user's deliveries of one alert
	// type created since the given time.
	CountDeliveriesCreatedSince(ctx context.Context, userID int64, alertType string, since time.Time) (int, error)

	// LatestDeliveryCreatedAt returns when the user's most recent delivery
	// of one alert type was created, or nil if none exists.
	LatestDeliveryCreatedAt(ctx context.Context, userID int64, alertType string) (*time.Time, error)
}

// Resolver computes the entitled target set for an alert event.
type Resolver struct {
	source  Source
	history DeliveryHistory
	now     func() time.Time
}

// NewResolver creates a resolver over the given entitlement source and
// delivery history.
func NewResolver(source Source, history DeliveryHistory) *Resolver {
	return &Resolver{
		source:  source,
		history: history,
		now:     time.Now,
	}
}

// Resolve returns the (user, channel, kind) tuples entitled to receive the
// event. It mutates nothing.
func (r *Resolver) Resolve(ctx context.Context, event *database.AlertEvent) ([]Target, error) {
	entitled, err := r.source.ListEntitledUsers(ctx, event.AlertType)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var targets []Target
	for _, ent := range entitled {
		if !matchesPreferences(ent, event) {
			continue
		}

		// Rolling daily quota: deliveries of this type already created for
		// the user since midnight UTC.
		if ent.MaxPerDay > 0 {
			count, err := r.history.CountDeliveriesCreatedSince(ctx, ent.UserID, event.AlertType, midnight)
			if err != nil {
				return nil, err
			}
			if count >= ent.MaxPerDay {
				slog.Debug("User over daily quota, skipping",
					"user_id", ent.UserID,
					"alert_type", event.AlertType,
					"quota", ent.MaxPerDay,
				)
				continue
			}
		}

		// Cooldown: a same-type delivery created inside the plan's cooldown
		// window suppresses this one.
		if ent.CooldownMinutes > 0 {
			latest, err := r.history.LatestDeliveryCreatedAt(ctx, ent.UserID, event.AlertType)
			if err != nil {
				return nil, err
			}
			if latest != nil && now.Sub(*latest) < time.Duration(ent.CooldownMinutes)*time.Minute {
				slog.Debug("User in cooldown window, skipping",
					"user_id", ent.UserID,
					"alert_type", event.AlertType,
					"cooldown_minutes", ent.CooldownMinutes,
				)
				continue
			}
		}

		for _, channel := range ent.AllowedChannels {
			targets = append(targets, Target{
				UserID:  ent.UserID,
				Channel: channel,
				Kind:    kindFor(ent, channel),
			})
		}
	}

	return targets, nil
}

// matchesPreferences reports whether the event falls inside the user's
// region/asset preference sets. An empty set is unrestricted.
func matchesPreferences(ent *database.UserEntitlement, event *database.AlertEvent) bool {
	if len(ent.Regions) > 0 && !containsString(ent.Regions, event.Region) {
		return false
	}
	if event.Asset != "" && len(ent.Assets) > 0 && !containsString(ent.Assets, event.Asset) {
		return false
	}
	return true
}

// kindFor returns instant for channels the plan marks real-time, digest
// otherwise.
func kindFor(ent *database.UserEntitlement, channel string) string {
	if containsString(ent.RealtimeChannels, channel) {
		return database.KindInstant
	}
	return database.KindDigest
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
