package executor

import (
	"context"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// fakeStore hands out queued deliveries and digests in claim batches and
// records every outcome transition.
type fakeStore struct {
	queuedDeliveries []*database.Delivery
	pendingDigests   []*database.Digest
	digestItems      map[int64][]*database.DigestItemSummary

	sentDeliveries    []int64
	failedDeliveries  map[int64]string
	skippedDeliveries map[int64]string
	requeued          map[int64]time.Time
	deferred          []int64

	sentDigests     []int64
	failedDigests   map[int64]string
	requeuedDigests []int64
	deferredDigests []int64

	claimedAllowlists [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		digestItems:       make(map[int64][]*database.DigestItemSummary),
		failedDeliveries:  make(map[int64]string),
		skippedDeliveries: make(map[int64]string),
		requeued:          make(map[int64]time.Time),
		failedDigests:     make(map[int64]string),
	}
}

func (f *fakeStore) ClaimDueDeliveries(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*database.Delivery, error) {
	f.claimedAllowlists = append(f.claimedAllowlists, allowlist)
	n := limit
	if n > len(f.queuedDeliveries) {
		n = len(f.queuedDeliveries)
	}
	claimed := f.queuedDeliveries[:n]
	f.queuedDeliveries = f.queuedDeliveries[n:]
	return claimed, nil
}

func (f *fakeStore) MarkDeliverySent(ctx context.Context, id int64) error {
	f.sentDeliveries = append(f.sentDeliveries, id)
	return nil
}

func (f *fakeStore) MarkDeliveryFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	f.failedDeliveries[id] = lastError
	return nil
}

func (f *fakeStore) MarkDeliverySkipped(ctx context.Context, id int64, reason string) error {
	f.skippedDeliveries[id] = reason
	return nil
}

func (f *fakeStore) RequeueDelivery(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	f.requeued[id] = nextAttemptAt
	return nil
}

func (f *fakeStore) DeferDelivery(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	f.deferred = append(f.deferred, id)
	return nil
}

func (f *fakeStore) ClaimPendingDigests(ctx context.Context, limit int, lease time.Duration, allowlist []string) ([]*database.Digest, error) {
	n := limit
	if n > len(f.pendingDigests) {
		n = len(f.pendingDigests)
	}
	claimed := f.pendingDigests[:n]
	f.pendingDigests = f.pendingDigests[n:]
	return claimed, nil
}

func (f *fakeStore) ListDigestItems(ctx context.Context, digestID int64) ([]*database.DigestItemSummary, error) {
	return f.digestItems[digestID], nil
}

func (f *fakeStore) MarkDigestSent(ctx context.Context, id int64) error {
	f.sentDigests = append(f.sentDigests, id)
	return nil
}

func (f *fakeStore) MarkDigestFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	f.failedDigests[id] = lastError
	return nil
}

func (f *fakeStore) RequeueDigest(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	f.requeuedDigests = append(f.requeuedDigests, id)
	return nil
}

func (f *fakeStore) DeferDigest(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	f.deferredDigests = append(f.deferredDigests, id)
	return nil
}

func (f *fakeStore) CountDueWork(ctx context.Context) (int64, int64, error) {
	return int64(len(f.queuedDeliveries)), int64(len(f.pendingDigests)), nil
}

// fakeDirectory serves the same contact for every user.
type fakeDirectory struct {
	contact *database.Contact
}

func (f *fakeDirectory) GetContact(ctx context.Context, userID int64) (*database.Contact, error) {
	c := *f.contact
	c.UserID = userID
	return &c, nil
}

// fakeSender records sends and fails on demand.
type fakeSender struct {
	channelType string
	configured  bool
	err         error
	sent        []string
}

func (f *fakeSender) Send(ctx context.Context, recipient string, content *channel.Content) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient)
	return nil
}

func (f *fakeSender) Type() string       { return f.channelType }
func (f *fakeSender) IsConfigured() bool { return f.configured }

// fakeRecorder counts metric events.
type fakeRecorder struct {
	sent   int
	errors int
	custom map[string]int
}

func (f *fakeRecorder) RecordSent()  { f.sent++ }
func (f *fakeRecorder) RecordError() { f.errors++ }
func (f *fakeRecorder) IncrementCustom(name string) {
	if f.custom == nil {
		f.custom = make(map[string]int)
	}
	f.custom[name]++
}
