package fanout

import (
	"context"
	"fmt"
	"testing"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/entitlement"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
)

// fakeDeliveryStore mirrors the delivery uniqueness constraint and the
// fan-out completion marker.
type fakeDeliveryStore struct {
	pending    []*database.AlertEvent
	deliveries map[string]bool
	completed  map[int64]bool
}

func newFakeDeliveryStore(pending ...*database.AlertEvent) *fakeDeliveryStore {
	return &fakeDeliveryStore{
		pending:    pending,
		deliveries: make(map[string]bool),
		completed:  make(map[int64]bool),
	}
}

func (f *fakeDeliveryStore) ListEventsPendingFanout(ctx context.Context, limit int) ([]*database.AlertEvent, error) {
	var out []*database.AlertEvent
	for _, ev := range f.pending {
		if !f.completed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeDeliveryStore) InsertDeliveryIdempotent(ctx context.Context, userID, alertEventID int64, channel, kind string) (*int64, error) {
	key := fmt.Sprintf("%d|%d|%s", userID, alertEventID, channel)
	if f.deliveries[key] {
		return nil, nil
	}
	f.deliveries[key] = true
	id := int64(len(f.deliveries))
	return &id, nil
}

func (f *fakeDeliveryStore) MarkFanoutComplete(ctx context.Context, eventID int64) error {
	f.completed[eventID] = true
	return nil
}

// fakeResolver returns a fixed target set for every event.
type fakeResolver struct {
	targets []entitlement.Target
}

func (f *fakeResolver) Resolve(ctx context.Context, event *database.AlertEvent) ([]entitlement.Target, error) {
	return f.targets, nil
}

func testEvent(id int64) *database.AlertEvent {
	return &database.AlertEvent{
		ID:        id,
		AlertType: events.TypeRegionalRiskSpike,
		Region:    "Europe",
		Severity:  4,
	}
}

func TestProcess_CreatesOneDeliveryPerTarget(t *testing.T) {
	store := newFakeDeliveryStore(testEvent(1))
	resolver := &fakeResolver{targets: []entitlement.Target{
		{UserID: 1, Channel: database.ChannelEmail, Kind: database.KindInstant},
		{UserID: 1, Channel: database.ChannelChat, Kind: database.KindDigest},
		{UserID: 2, Channel: database.ChannelEmail, Kind: database.KindDigest},
	}}

	counts, err := NewEngine(store, resolver).Process(context.Background(), false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if counts.Events != 1 {
		t.Errorf("Events = %d, want 1", counts.Events)
	}
	if counts.DeliveriesCreated != 3 {
		t.Errorf("DeliveriesCreated = %d, want 3", counts.DeliveriesCreated)
	}
	if !store.completed[1] {
		t.Error("event not marked fan-out complete")
	}
}

func TestProcess_RerunIsNoOp(t *testing.T) {
	store := newFakeDeliveryStore(testEvent(1))
	resolver := &fakeResolver{targets: []entitlement.Target{
		{UserID: 1, Channel: database.ChannelEmail, Kind: database.KindInstant},
	}}
	engine := NewEngine(store, resolver)

	if _, err := engine.Process(context.Background(), false); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	counts, err := engine.Process(context.Background(), false)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if counts.Events != 0 || counts.DeliveriesCreated != 0 {
		t.Errorf("rerun counts = %+v, want all zero", counts)
	}
	if len(store.deliveries) != 1 {
		t.Errorf("rerun changed the delivery set: %d rows, want 1", len(store.deliveries))
	}
}

func TestProcess_PartialFanoutResumes(t *testing.T) {
	// One delivery already exists (a crashed run got partway through); the
	// rerun creates only the missing one.
	store := newFakeDeliveryStore(testEvent(1))
	store.deliveries["1|1|email"] = true
	resolver := &fakeResolver{targets: []entitlement.Target{
		{UserID: 1, Channel: database.ChannelEmail, Kind: database.KindInstant},
		{UserID: 2, Channel: database.ChannelEmail, Kind: database.KindInstant},
	}}

	counts, err := NewEngine(store, resolver).Process(context.Background(), false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if counts.DeliveriesCreated != 1 {
		t.Errorf("DeliveriesCreated = %d, want 1", counts.DeliveriesCreated)
	}
	if counts.DuplicatesSkipped != 1 {
		t.Errorf("DuplicatesSkipped = %d, want 1", counts.DuplicatesSkipped)
	}
}

func TestProcess_DryRunWritesNothing(t *testing.T) {
	store := newFakeDeliveryStore(testEvent(1))
	resolver := &fakeResolver{targets: []entitlement.Target{
		{UserID: 1, Channel: database.ChannelEmail, Kind: database.KindInstant},
	}}

	counts, err := NewEngine(store, resolver).Process(context.Background(), true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if counts.DeliveriesCreated != 1 {
		t.Errorf("DeliveriesCreated = %d, want 1", counts.DeliveriesCreated)
	}
	if len(store.deliveries) != 0 {
		t.Errorf("dry run wrote %d deliveries, want 0", len(store.deliveries))
	}
	if store.completed[1] {
		t.Error("dry run marked the event fan-out complete")
	}
}
