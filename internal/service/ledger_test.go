package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tally/internal/model"
	"tally/internal/payment"
	"tally/internal/repository"
)

type fakeProcessor struct {
	mu    sync.Mutex
	n     int
	err   error
	calls []payment.CheckoutRequest
}

func (f *fakeProcessor) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return payment.Checkout{}, f.err
	}
	f.n++
	id := fmt.Sprintf("cs_test_%d", f.n)
	return payment.Checkout{ID: id, URL: "https://checkout.test/" + id}, nil
}

type recordingBus struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *recordingBus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == repository.TopicLedgerEntries {
		b.messages = append(b.messages, data)
	}
	return nil
}

func (b *recordingBus) entries(t *testing.T) []model.LedgerEntry {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.LedgerEntry, 0, len(b.messages))
	for _, m := range b.messages {
		e, err := repository.DecodeEntry(m)
		if err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		out = append(out, e)
	}
	return out
}

type memCache struct {
	mu       sync.Mutex
	values   map[string]int64
	versions map[string]int64
}

func newMemCache() *memCache {
	return &memCache{values: map[string]int64{}, versions: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	if !ok {
		return 0, repository.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *memCache) Fill(_ context.Context, userID string, version, balance int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return false, nil
	}
	c.values[userID] = balance
	return true, nil
}

func (c *memCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	c.versions[userID]++
	return nil
}

// pausingStore blocks Balance after the read until release is closed.
type pausingStore struct {
	repository.Store
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := s.Store.Balance(ctx, userID)
	close(s.read)
	<-s.release
	return bal, err
}

// failingFulfilStore fails every MarkIntentFulfilled call.
type failingFulfilStore struct {
	repository.Store
}

func (failingFulfilStore) MarkIntentFulfilled(context.Context, string) error {
	return errors.New("connection reset")
}

type fixture struct {
	ledger    *Ledger
	store     *repository.SQLiteStore
	processor *fakeProcessor
	bus       *recordingBus
	cache     *memCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	f := &fixture{
		store:     store,
		processor: &fakeProcessor{},
		bus:       &recordingBus{},
		cache:     newMemCache(),
	}
	f.ledger = New(store, f.processor,
		WithBus(f.bus),
		WithCache(f.cache),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMaxQuantity(50),
		WithRedirects("https://app.test/success?userId={userId}", "https://app.test/cancel"),
	)
	return f
}

func completion(notificationID string, intent *model.Intent) model.VerifiedEvent {
	return model.VerifiedEvent{
		NotificationID: notificationID,
		Type:           model.EventCheckoutCompleted,
		IntentID:       intent.ID,
		UserID:         intent.UserID,
		Quantity:       intent.Quantity,
		Paid:           true,
		ReceivedAt:     time.Now(),
	}
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.ledger.CreateIntent(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ID == "" || intent.RedirectURL == "" || intent.Status != model.IntentPending {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if got := f.processor.calls[0].SuccessURL; got != "https://app.test/success?userId=u1" {
		t.Errorf("unexpected success url %q", got)
	}

	stored, err := f.store.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("intent not persisted: %v", err)
	}
	if stored.UserID != "u1" || stored.Quantity != 5 {
		t.Fatalf("unexpected stored intent: %+v", stored)
	}
	if bal, _ := f.ledger.GetBalance(ctx, "u1"); bal != 0 {
		t.Fatalf("creating an intent must not credit, balance %d", bal)
	}
}

func TestCreateIntent_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	for _, q := range []int64{0, -1, 51} {
		if _, err := f.ledger.CreateIntent(context.Background(), "u1", q); !errors.Is(err, model.ErrInvalidRequest) {
			t.Errorf("quantity %d: expected ErrInvalidRequest, got %v", q, err)
		}
	}
	if len(f.processor.calls) != 0 {
		t.Fatal("processor must not be called for invalid requests")
	}
}

func TestCreateIntent_UpstreamUnavailable(t *testing.T) {
	f := newFixture(t)
	f.processor.err = fmt.Errorf("%w: 503 from processor", model.ErrUpstreamUnavailable)

	_, err := f.ledger.CreateIntent(context.Background(), "u1", 5)
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !model.IsRetryable(err) {
		t.Error("upstream errors should be retryable")
	}
}

func TestReconcile_AppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.ledger.CreateIntent(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	ev := completion("evt_1", intent)

	res, err := f.ledger.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Outcome != model.OutcomeApplied || res.NewBalance != 5 || res.UserID != "u1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = f.ledger.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != model.OutcomeSkipped {
		t.Fatalf("expected skipped on redelivery, got %s", res.Outcome)
	}

	if bal, _ := f.ledger.GetBalance(ctx, "u1"); bal != 5 {
		t.Fatalf("expected balance 5, got %d", bal)
	}
	stored, _ := f.store.GetIntent(ctx, intent.ID)
	if stored.Status != model.IntentFulfilled {
		t.Errorf("expected intent fulfilled, got %s", stored.Status)
	}
	if entries := f.bus.entries(t); len(entries) != 1 || entries[0].Kind != model.EntryCredit {
		t.Errorf("expected one credit entry, got %+v", entries)
	}
}

func TestReconcile_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.ledger.CreateIntent(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	ev := completion("evt_1", intent)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.Reconcile(ctx, ev)
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if res.Outcome == model.OutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied outcome, got %d", applied)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 5 {
		t.Fatalf("expected balance 5, got %d", bal)
	}
}

func TestReconcile_SecondNotificationForSameIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, _ := f.ledger.CreateIntent(ctx, "u1", 5)

	if res, err := f.ledger.Reconcile(ctx, completion("evt_1", intent)); err != nil || res.Outcome != model.OutcomeApplied {
		t.Fatalf("first: %+v, %v", res, err)
	}
	async := completion("evt_2", intent)
	async.Type = model.EventAsyncPaymentSucceeded
	if res, err := f.ledger.Reconcile(ctx, async); err != nil || res.Outcome != model.OutcomeSkipped {
		t.Fatalf("second: %+v, %v", res, err)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 5 {
		t.Fatalf("intent credited twice, balance %d", bal)
	}
}

func TestReconcile_QuantityComesFromIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, _ := f.ledger.CreateIntent(ctx, "u1", 5)
	ev := completion("evt_1", intent)
	ev.Quantity = 500

	res, err := f.ledger.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Quantity != 5 || res.NewBalance != 5 {
		t.Fatalf("expected intent quantity to be credited, got %+v", res)
	}
}

func TestReconcile_Unresolved(t *testing.T) {
	tests := []struct {
		name  string
		event func(intent *model.Intent) model.VerifiedEvent
	}{
		{
			name: "unknown intent",
			event: func(intent *model.Intent) model.VerifiedEvent {
				ev := completion("evt_u1", intent)
				ev.IntentID = "cs_unknown"
				return ev
			},
		},
		{
			name: "no intent id",
			event: func(intent *model.Intent) model.VerifiedEvent {
				ev := completion("evt_u2", intent)
				ev.IntentID = ""
				return ev
			},
		},
		{
			name: "owner mismatch",
			event: func(intent *model.Intent) model.VerifiedEvent {
				ev := completion("evt_u3", intent)
				ev.UserID = "someone-else"
				return ev
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			intent, _ := f.ledger.CreateIntent(ctx, "u1", 5)
			ev := tt.event(intent)

			res, err := f.ledger.Reconcile(ctx, ev)
			if err != nil {
				t.Fatalf("unresolved notifications must not fail: %v", err)
			}
			if res.Outcome != model.OutcomeUnresolved {
				t.Fatalf("expected unresolved, got %s", res.Outcome)
			}
			if bal, _ := f.store.Balance(ctx, "u1"); bal != 0 {
				t.Fatalf("no balance may change, got %d", bal)
			}
			if bal, _ := f.store.Balance(ctx, "someone-else"); bal != 0 {
				t.Fatalf("no balance may change, got %d", bal)
			}

			reviews, err := f.store.ListReviews(ctx, 10)
			if err != nil {
				t.Fatalf("list reviews: %v", err)
			}
			if len(reviews) != 1 || reviews[0].NotificationID != ev.NotificationID {
				t.Fatalf("expected one review record, got %+v", reviews)
			}

			res, err = f.ledger.Reconcile(ctx, ev)
			if err != nil || res.Outcome != model.OutcomeSkipped {
				t.Fatalf("redelivery should be skipped, got %+v, %v", res, err)
			}
		})
	}
}

func TestReconcile_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent, _ := f.ledger.CreateIntent(ctx, "u1", 5)

	unpaid := completion("evt_1", intent)
	unpaid.Paid = false
	other := model.VerifiedEvent{NotificationID: "evt_2", Type: "customer.created"}

	for _, ev := range []model.VerifiedEvent{unpaid, other} {
		res, err := f.ledger.Reconcile(ctx, ev)
		if err != nil || res.Outcome != model.OutcomeSkipped {
			t.Fatalf("expected skipped, got %+v, %v", res, err)
		}
	}

	// The unpaid notification left no claim behind, so a later paid delivery still applies.
	res, err := f.ledger.Reconcile(ctx, completion("evt_1", intent))
	if err != nil || res.Outcome != model.OutcomeApplied {
		t.Fatalf("expected applied, got %+v, %v", res, err)
	}
}

func TestSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent, _ := f.ledger.CreateIntent(ctx, "u1", 10)
	if _, err := f.ledger.Reconcile(ctx, completion("evt_1", intent)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	res, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 4})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if res.NewBalance != 6 || res.Status != model.SpendStatusSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 7}); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if bal, _ := f.ledger.GetBalance(ctx, "u1"); bal != 6 {
		t.Fatalf("expected 6, got %d", bal)
	}
}

func TestSpend_Validation(t *testing.T) {
	f := newFixture(t)

	for _, req := range []model.SpendRequest{
		{UserID: "", Amount: 1},
		{UserID: "u1", Amount: 0},
		{UserID: "u1", Amount: -5},
	} {
		if _, err := f.ledger.Spend(context.Background(), req); !errors.Is(err, model.ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
}

func TestSpend_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Increment(ctx, "u1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req := model.SpendRequest{UserID: "u1", Amount: 6, IdempotencyKey: "order-1"}

	first, err := f.ledger.Spend(ctx, req)
	if err != nil {
		t.Fatalf("first spend: %v", err)
	}
	second, err := f.ledger.Spend(ctx, req)
	if err != nil {
		t.Fatalf("retried spend: %v", err)
	}

	if first.Status != model.SpendStatusSuccess || second.Status != model.SpendStatusDuplicate {
		t.Fatalf("unexpected statuses %s, %s", first.Status, second.Status)
	}
	if first.NewBalance != 4 || second.NewBalance != 4 {
		t.Fatalf("unexpected balances %d, %d", first.NewBalance, second.NewBalance)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 4 {
		t.Fatalf("retry debited twice, balance %d", bal)
	}

	if _, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 1, IdempotencyKey: "order-1"}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected reused key with new amount to be rejected, got %v", err)
	}

	// Keys are scoped per user.
	if _, err := f.store.Increment(ctx, "u2", 6); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u2", Amount: 6, IdempotencyKey: "order-1"})
	if err != nil || res.Status != model.SpendStatusSuccess {
		t.Fatalf("expected independent spend for u2, got %+v, %v", res, err)
	}
}

func TestSpend_ConcurrentNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Increment(ctx, "u1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 3})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got %d and %d", ok, rejected)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 2 {
		t.Fatalf("expected balance 2, got %d", bal)
	}
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var credited, debited int64
	for i, q := range []int64{5, 10, 3} {
		intent, err := f.ledger.CreateIntent(ctx, "u1", q)
		if err != nil {
			t.Fatalf("create intent: %v", err)
		}
		ev := completion(fmt.Sprintf("evt_%d", i), intent)
		for range 2 {
			if _, err := f.ledger.Reconcile(ctx, ev); err != nil {
				t.Fatalf("reconcile: %v", err)
			}
		}
		credited += q
	}
	for _, amount := range []int64{4, 4, 100, 2} {
		if _, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: amount}); err == nil {
			debited += amount
		}
	}

	bal, err := f.store.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != credited-debited {
		t.Fatalf("balance %d != credited %d - debited %d", bal, credited, debited)
	}
}

func TestGetBalance_ReadThroughAndInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Increment(ctx, "u1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if bal, err := f.ledger.GetBalance(ctx, "u1"); err != nil || bal != 10 {
		t.Fatalf("expected 10, got %d, %v", bal, err)
	}
	if v, err := f.cache.Get(ctx, "u1"); err != nil || v != 10 {
		t.Fatalf("expected cached 10, got %d, %v", v, err)
	}

	if _, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 3}); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if _, err := f.cache.Get(ctx, "u1"); !errors.Is(err, repository.ErrCacheMiss) {
		t.Fatal("spend must invalidate the cached balance")
	}
	if bal, _ := f.ledger.GetBalance(ctx, "u1"); bal != 7 {
		t.Fatalf("expected 7, got %d", bal)
	}
}

func TestGetBalance_ConcurrentWriteDoesNotLeaveStaleValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Increment(ctx, "u1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	slow := &pausingStore{Store: f.store, read: make(chan struct{}), release: make(chan struct{})}
	reader := New(slow, f.processor, WithCache(f.cache), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan int64)
	go func() {
		bal, err := reader.GetBalance(ctx, "u1")
		if err != nil {
			t.Errorf("get balance: %v", err)
		}
		done <- bal
	}()

	<-slow.read
	res, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 3})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	close(slow.release)
	if bal := <-done; bal != 5 {
		t.Fatalf("in-flight read should see the old balance, got %d", bal)
	}

	if _, err := f.cache.Get(ctx, "u1"); !errors.Is(err, repository.ErrCacheMiss) {
		t.Fatal("a read that started before the spend must not fill the cache")
	}
	if bal, _ := f.ledger.GetBalance(ctx, "u1"); bal != res.NewBalance {
		t.Fatalf("expected %d after spend, got %d", res.NewBalance, bal)
	}
}

func TestReconcile_FulfilmentFailureKeepsCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent, err := f.ledger.CreateIntent(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	ledger := New(failingFulfilStore{Store: f.store}, f.processor,
		WithBus(f.bus),
		WithCache(f.cache),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ev := completion("evt_1", intent)

	res, err := ledger.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("fulfilment errors must not fail reconciliation: %v", err)
	}
	if res.Outcome != model.OutcomeApplied || res.NewBalance != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 5 {
		t.Fatalf("credit lost, balance %d", bal)
	}
	stored, _ := f.store.GetIntent(ctx, intent.ID)
	if stored.Status != model.IntentPending {
		t.Fatalf("expected intent to stay pending, got %s", stored.Status)
	}

	res, err = ledger.Reconcile(ctx, ev)
	if err != nil || res.Outcome != model.OutcomeSkipped {
		t.Fatalf("redelivery should be skipped, got %+v, %v", res, err)
	}
	if bal, _ := f.store.Balance(ctx, "u1"); bal != 5 {
		t.Fatalf("redelivery credited again, balance %d", bal)
	}
}

func TestLedgerEntries_JournaledWithoutBus(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	processor := &fakeProcessor{}
	ledger := New(store, processor, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	intent, err := ledger.CreateIntent(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := ledger.Reconcile(ctx, completion("evt_1", intent)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 2}); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if _, err := ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 9}); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	entries, err := ledger.LedgerEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected credit and debit entries, got %+v", entries)
	}
	if entries[0].ID != "credit:evt_1" || entries[0].BalanceAfter != 5 {
		t.Errorf("unexpected credit entry: %+v", entries[0])
	}
	if entries[1].Kind != model.EntryDebit || entries[1].BalanceAfter != 3 {
		t.Errorf("unexpected debit entry: %+v", entries[1])
	}
}

func TestSyncLedgerEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Increment(ctx, "u1", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.ledger.Spend(ctx, model.SpendRequest{UserID: "u1", Amount: 3, IdempotencyKey: "k"}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	for _, e := range f.bus.entries(t) {
		for range 2 {
			if err := f.ledger.SyncLedgerEntry(ctx, e); err != nil {
				t.Fatalf("sync: %v", err)
			}
		}
	}

	entries, err := f.ledger.LedgerEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != model.EntryDebit || entries[0].BalanceAfter != 7 {
		t.Fatalf("unexpected journal: %+v", entries)
	}

	if err := f.ledger.SyncLedgerEntry(ctx, model.LedgerEntry{}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
