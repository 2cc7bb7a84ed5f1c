package entitlement

import (
	"context"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// fakeSource serves a fixed entitlement set.
type fakeSource struct {
	entitled []*database.UserEntitlement
	err      error
}

func (f *fakeSource) ListEntitledUsers(ctx context.Context, alertType string) ([]*database.UserEntitlement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entitled, nil
}

// fakeHistory serves per-user delivery counts and latest delivery times.
type fakeHistory struct {
	countsByUser map[int64]int
	latestByUser map[int64]time.Time
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		countsByUser: make(map[int64]int),
		latestByUser: make(map[int64]time.Time),
	}
}

func (f *fakeHistory) CountDeliveriesCreatedSince(ctx context.Context, userID int64, alertType string, since time.Time) (int, error) {
	return f.countsByUser[userID], nil
}

func (f *fakeHistory) LatestDeliveryCreatedAt(ctx context.Context, userID int64, alertType string) (*time.Time, error) {
	at, ok := f.latestByUser[userID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}
