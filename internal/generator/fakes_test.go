package generator

import (
	"context"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// fakeAlertStore records inserted events and reports duplicates by
// fingerprint, mirroring the uniqueness constraint.
type fakeAlertStore struct {
	inserted []*database.AlertEvent
	seen     map[string]bool
	err      error
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{seen: make(map[string]bool)}
}

func (f *fakeAlertStore) InsertAlertEventIdempotent(ctx context.Context, ev *database.AlertEvent) (*int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := ev.AlertType + "|" + ev.Fingerprint
	if f.seen[key] {
		return nil, nil
	}
	f.seen[key] = true
	f.inserted = append(f.inserted, ev)
	id := int64(len(f.inserted))
	return &id, nil
}
