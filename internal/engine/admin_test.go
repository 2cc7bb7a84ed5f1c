package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

type adminStubSender struct {
	channelType string
	configured  bool
}

func (s *adminStubSender) Send(ctx context.Context, recipient string, content *channel.Content) error {
	return nil
}
func (s *adminStubSender) Type() string       { return s.channelType }
func (s *adminStubSender) IsConfigured() bool { return s.configured }

func fullRegistry() *channel.Registry {
	registry := channel.NewRegistry()
	for _, ch := range database.Channels {
		registry.Register(&adminStubSender{channelType: ch, configured: true})
	}
	return registry
}

func checkByName(checks []Check, name string) *Check {
	for i := range checks {
		if checks[i].Name == name {
			return &checks[i]
		}
	}
	return nil
}

func TestPreflight_AllPass(t *testing.T) {
	admin := NewAdmin(newFakeRunStore(), fullRegistry(), nil)

	checks := admin.Preflight(context.Background())

	// storage + tables + one check per channel
	if len(checks) != 2+len(database.Channels) {
		t.Fatalf("checks = %d, want %d", len(checks), 2+len(database.Channels))
	}
	for _, c := range checks {
		if c.Status != CheckPass {
			t.Errorf("check %s = %s (%s), want pass", c.Name, c.Status, c.Detail)
		}
	}
}

func TestPreflight_StorageDownShortCircuits(t *testing.T) {
	store := newFakeRunStore()
	store.pingErr = errors.New("connection refused")
	admin := NewAdmin(store, fullRegistry(), nil)

	checks := admin.Preflight(context.Background())

	if len(checks) != 1 {
		t.Fatalf("checks = %d, want 1 (storage only)", len(checks))
	}
	if checks[0].Status != CheckFail {
		t.Errorf("storage check = %s, want fail", checks[0].Status)
	}
}

func TestPreflight_MissingTablesFail(t *testing.T) {
	store := newFakeRunStore()
	store.missingTables = []string{"user_alert_digests"}
	admin := NewAdmin(store, fullRegistry(), nil)

	checks := admin.Preflight(context.Background())

	tables := checkByName(checks, "tables")
	if tables == nil || tables.Status != CheckFail {
		t.Fatalf("tables check = %+v, want fail", tables)
	}
}

func TestPreflight_ChannelWarnings(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(&adminStubSender{channelType: database.ChannelEmail, configured: true})
	registry.Register(&adminStubSender{channelType: database.ChannelSMS, configured: false})
	// chat never registered
	admin := NewAdmin(newFakeRunStore(), registry, nil)

	checks := admin.Preflight(context.Background())

	if c := checkByName(checks, "channel:email"); c == nil || c.Status != CheckPass {
		t.Errorf("email check = %+v, want pass", c)
	}
	if c := checkByName(checks, "channel:sms"); c == nil || c.Status != CheckWarn {
		t.Errorf("unconfigured sms check = %+v, want warn", c)
	}
	if c := checkByName(checks, "channel:chat"); c == nil || c.Status != CheckWarn {
		t.Errorf("unregistered chat check = %+v, want warn", c)
	}
}

func TestHealth(t *testing.T) {
	store := newFakeRunStore()
	store.health = &database.HealthCounts{
		DeliveriesByStatus: map[string]int64{"sent": 42, "failed": 3},
	}
	admin := NewAdmin(store, fullRegistry(), nil)

	h, err := admin.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.DeliveriesByStatus["sent"] != 42 {
		t.Errorf("sent = %d, want 42", h.DeliveriesByStatus["sent"])
	}
}

func TestListRuns_LimitClamping(t *testing.T) {
	store := newFakeRunStore()
	for i := 0; i < 3; i++ {
		store.CreateEngineRun(context.Background(), string(rune('a'+i)), PhaseAll, TriggeredScheduled)
	}
	admin := NewAdmin(store, fullRegistry(), nil)

	runs, err := admin.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("runs = %d, want 3", len(runs))
	}

	runs, err = admin.ListRuns(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestTriggerRun(t *testing.T) {
	store := newFakeRunStore()
	eng := NewEngine(store, nil, &fakeGenerate{}, &fakeFanout{}, &fakeDeliver{}, &fakeDigest{})
	admin := NewAdmin(store, fullRegistry(), eng)

	report, err := admin.TriggerRun(context.Background(), PhaseGenerate, false)
	if err != nil {
		t.Fatalf("TriggerRun() error = %v", err)
	}
	if store.runs[report.RunID].TriggeredBy != TriggeredManual {
		t.Errorf("triggered_by = %q, want manual", store.runs[report.RunID].TriggeredBy)
	}
}

func TestTriggerRun_NoEngine(t *testing.T) {
	admin := NewAdmin(newFakeRunStore(), fullRegistry(), nil)
	if _, err := admin.TriggerRun(context.Background(), PhaseGenerate, false); err == nil {
		t.Fatal("TriggerRun() without runner expected error")
	}
}

func TestRetryFailed(t *testing.T) {
	store := newFakeRunStore()
	store.retryableDeliveries = 5
	store.retryableDigests = 2
	admin := NewAdmin(store, fullRegistry(), nil)
	filter := database.RetryFilter{Channel: "email", Since: time.Now().Add(-time.Hour)}

	dry, err := admin.RetryFailed(context.Background(), filter, true)
	if err != nil {
		t.Fatalf("RetryFailed(dry) error = %v", err)
	}
	if !dry.DryRun || dry.Deliveries != 5 || dry.Digests != 2 {
		t.Errorf("dry report = %+v", dry)
	}
	if store.resetDeliveries != 0 || store.resetDigests != 0 {
		t.Error("dry run must not reset anything")
	}

	applied, err := admin.RetryFailed(context.Background(), filter, false)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if applied.DryRun {
		t.Error("applied report flagged as dry run")
	}
	if store.resetDeliveries == 0 || store.resetDigests == 0 {
		t.Error("applying the retry must reset failed rows")
	}
}
