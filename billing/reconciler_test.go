package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-billing-connect/core"
)

type fakeSubscriptionStore struct {
	byExternal map[string]core.Subscription
	nextID     int
	updates    int
	updateErr  error
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{byExternal: map[string]core.Subscription{}}
}

func (s *fakeSubscriptionStore) GetByExternalID(_ context.Context, externalID string) (core.Subscription, error) {
	if sub, ok := s.byExternal[externalID]; ok {
		return sub, nil
	}
	return core.Subscription{}, core.NewNotFound("subscription not found")
}

func (s *fakeSubscriptionStore) FindLatestOpenByCustomer(_ context.Context, customerID string) (core.Subscription, error) {
	var latest core.Subscription
	found := false
	for _, sub := range s.byExternal {
		if sub.ExternalCustomerID != customerID || sub.Status.Terminal() {
			continue
		}
		if !found || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
			found = true
		}
	}
	if !found {
		return core.Subscription{}, core.NewNotFound("no open subscription for customer")
	}
	return latest, nil
}

func (s *fakeSubscriptionStore) CreateIfAbsent(_ context.Context, in core.UpsertSubscriptionInput) (core.Subscription, bool, error) {
	if existing, ok := s.byExternal[in.ExternalSubscriptionID]; ok {
		return existing, false, nil
	}
	s.nextID++
	sub := core.Subscription{
		ID:                     fmt.Sprintf("sub-%d", s.nextID),
		UserID:                 in.UserID,
		ExternalSubscriptionID: in.ExternalSubscriptionID,
		ExternalCustomerID:     in.ExternalCustomerID,
		PriceID:                in.PriceID,
		Status:                 in.Status,
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		TrialEnd:               in.TrialEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		LastEventAt:            in.LastEventAt,
		CreatedAt:              time.Now().UTC(),
	}
	s.byExternal[in.ExternalSubscriptionID] = sub
	return sub, true, nil
}

func (s *fakeSubscriptionStore) Update(_ context.Context, subscription core.Subscription) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates++
	s.byExternal[subscription.ExternalSubscriptionID] = subscription
	return nil
}

type fakeTransactionStore struct {
	byInvoice map[string]core.Transaction
	byCharge  map[string]core.Transaction
	nextID    int
	insertErr error
	updateErr error
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{
		byInvoice: map[string]core.Transaction{},
		byCharge:  map[string]core.Transaction{},
	}
}

func (s *fakeTransactionStore) Insert(_ context.Context, in core.InsertTransactionInput) (core.Transaction, bool, error) {
	if s.insertErr != nil {
		return core.Transaction{}, false, s.insertErr
	}
	if existing, ok := s.byInvoice[in.ExternalInvoiceID]; ok {
		return existing, false, nil
	}
	s.nextID++
	tx := core.Transaction{
		ID:                fmt.Sprintf("tx-%d", s.nextID),
		SubscriptionID:    in.SubscriptionID,
		ExternalInvoiceID: in.ExternalInvoiceID,
		ExternalChargeID:  in.ExternalChargeID,
		Kind:              in.Kind,
		Amount:            in.Amount,
		Currency:          in.Currency,
		Status:            in.Status,
		PeriodStart:       in.PeriodStart,
		PeriodEnd:         in.PeriodEnd,
		CreatedAt:         time.Now().UTC(),
	}
	s.byInvoice[in.ExternalInvoiceID] = tx
	if in.ExternalChargeID != "" {
		s.byCharge[in.ExternalChargeID] = tx
	}
	return tx, true, nil
}

func (s *fakeTransactionStore) GetByExternalInvoiceID(_ context.Context, externalInvoiceID string) (core.Transaction, error) {
	if tx, ok := s.byInvoice[externalInvoiceID]; ok {
		return tx, nil
	}
	return core.Transaction{}, core.NewNotFound("transaction not found")
}

func (s *fakeTransactionStore) GetByExternalChargeID(_ context.Context, externalChargeID string) (core.Transaction, error) {
	if tx, ok := s.byCharge[externalChargeID]; ok {
		return tx, nil
	}
	return core.Transaction{}, core.NewNotFound("transaction not found")
}

func (s *fakeTransactionStore) Update(_ context.Context, transaction core.Transaction) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.byInvoice[transaction.ExternalInvoiceID] = transaction
	if transaction.ExternalChargeID != "" {
		s.byCharge[transaction.ExternalChargeID] = transaction
	}
	return nil
}

func (s *fakeTransactionStore) ListBySubscription(_ context.Context, subscriptionID string) ([]core.Transaction, error) {
	out := []core.Transaction{}
	for _, tx := range s.byInvoice {
		if tx.SubscriptionID == subscriptionID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	states map[string]SubscriptionState
	calls  int
}

func (f *fakeFetcher) FetchSubscription(_ context.Context, externalID string) (SubscriptionState, error) {
	f.calls++
	if state, ok := f.states[externalID]; ok {
		return state, nil
	}
	return SubscriptionState{}, fmt.Errorf("remote subscription %s not found", externalID)
}

type fakeUserResolver struct {
	byCustomer map[string]string
}

func (f *fakeUserResolver) ResolveUserByCustomer(_ context.Context, customerID string) (string, error) {
	if userID, ok := f.byCustomer[customerID]; ok {
		return userID, nil
	}
	return "", fmt.Errorf("customer %s is unknown", customerID)
}

func newTestReconciler(t *testing.T, subs *fakeSubscriptionStore, txs *fakeTransactionStore, fetcher RemoteSubscriptionFetcher, users UserResolver) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(ReconcilerConfig{
		Subscriptions: subs,
		Transactions:  txs,
		Fetcher:       fetcher,
		Users:         users,
		Now:           func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return reconciler
}

func seededSubscription(subs *fakeSubscriptionStore, externalID, customerID, priceID string, status core.SubscriptionStatus) core.Subscription {
	sub, _, _ := subs.CreateIfAbsent(context.Background(), core.UpsertSubscriptionInput{
		UserID:                 "user-1",
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     customerID,
		PriceID:                priceID,
		Status:                 status,
		CurrentPeriodStart:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	return sub
}

func TestReconciler_InvoicePaymentSucceededIsIdempotent(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusPastDue)
	subForUpdate := subs.byExternal["sub_ext_1"]
	subForUpdate.FailedPaymentAttempts = 2
	subs.byExternal["sub_ext_1"] = subForUpdate

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	event := Event{
		ID:   "evt_1",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_1",
			ExternalChargeID:       "ch_1",
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Amount:                 1999,
			Currency:               "usd",
			PeriodStart:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:              time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for i := 0; i < 3; i++ {
		if err := reconciler.Apply(context.Background(), event); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if len(txs.byInvoice) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", len(txs.byInvoice))
	}
	row := txs.byInvoice["in_1"]
	if row.Status != core.TransactionStatusSucceeded || row.Amount != 1999 {
		t.Fatalf("unexpected ledger row: %+v", row)
	}
	sub := subs.byExternal["sub_ext_1"]
	if sub.Status != core.SubscriptionStatusActive {
		t.Fatalf("expected subscription active, got %s", sub.Status)
	}
	if sub.FailedPaymentAttempts != 0 {
		t.Fatalf("expected failed attempts reset, got %d", sub.FailedPaymentAttempts)
	}
	if !sub.CurrentPeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected period end advanced, got %v", sub.CurrentPeriodEnd)
	}
}

func TestReconciler_InvoicePaymentFailedIncrementsAttemptsOnce(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	event := Event{
		ID:   "evt_2",
		Kind: EventInvoicePaymentFailed,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_2",
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Amount:                 1999,
			Currency:               "usd",
		},
	}

	for i := 0; i < 3; i++ {
		if err := reconciler.Apply(context.Background(), event); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	sub := subs.byExternal["sub_ext_1"]
	if sub.Status != core.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}
	if sub.FailedPaymentAttempts != 1 {
		t.Fatalf("expected one failed attempt after redeliveries, got %d", sub.FailedPaymentAttempts)
	}
	if row := txs.byInvoice["in_2"]; row.Status != core.TransactionStatusFailed {
		t.Fatalf("expected failed ledger row, got %+v", row)
	}
}

func TestReconciler_DeletionHonorsGracePeriod(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	futureEnd := now.Add(10 * 24 * time.Hour)
	err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_3",
		Kind: EventSubscriptionDeleted,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			CurrentPeriodEnd:       futureEnd,
		},
	})
	if err != nil {
		t.Fatalf("apply deletion: %v", err)
	}

	sub := subs.byExternal["sub_ext_1"]
	if sub.Status != core.SubscriptionStatusActive {
		t.Fatalf("expected active through paid period, got %s", sub.Status)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end set")
	}
	if !sub.CurrentPeriodEnd.Equal(futureEnd) {
		t.Fatalf("expected period end %v, got %v", futureEnd, sub.CurrentPeriodEnd)
	}

	err = reconciler.Apply(context.Background(), Event{
		ID:   "evt_4",
		Kind: EventSubscriptionDeleted,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			CurrentPeriodEnd:       now.Add(-time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("apply past deletion: %v", err)
	}
	if got := subs.byExternal["sub_ext_1"].Status; got != core.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
}

func TestReconciler_PriceChangeAppendsOnePlanChangeRow(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	event := Event{
		ID:   "evt_5",
		Kind: EventSubscriptionUpdated,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			PriceID:                "price_pro",
			Status:                 core.SubscriptionStatusActive,
		},
	}

	for i := 0; i < 2; i++ {
		if err := reconciler.Apply(context.Background(), event); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	row, ok := txs.byInvoice["evt_5"]
	if !ok {
		t.Fatalf("expected plan change row keyed by event id")
	}
	if row.Kind != core.TransactionKindPlanChange || row.Amount != 0 {
		t.Fatalf("unexpected plan change row: %+v", row)
	}
	if len(txs.byInvoice) != 1 {
		t.Fatalf("expected one ledger row across redeliveries, got %d", len(txs.byInvoice))
	}
	if got := subs.byExternal["sub_ext_1"].PriceID; got != "price_pro" {
		t.Fatalf("expected price updated, got %s", got)
	}
}

func TestReconciler_ResolvesByCustomerWhenSubscriptionIDUnknown(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seeded := seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_6",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:  "in_6",
			ExternalCustomerID: "cus_1",
			Amount:             500,
			Currency:           "usd",
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if row := txs.byInvoice["in_6"]; row.SubscriptionID != seeded.ID {
		t.Fatalf("expected row bound to %s, got %s", seeded.ID, row.SubscriptionID)
	}
}

func TestReconciler_FetchesRemoteSubscriptionOnDemand(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	fetcher := &fakeFetcher{states: map[string]SubscriptionState{
		"sub_ext_9": {
			ExternalSubscriptionID: "sub_ext_9",
			ExternalCustomerID:     "cus_9",
			PriceID:                "price_pro",
			Status:                 core.SubscriptionStatusActive,
		},
	}}
	users := &fakeUserResolver{byCustomer: map[string]string{"cus_9": "user-9"}}

	reconciler := newTestReconciler(t, subs, txs, fetcher, users)
	err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_7",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_7",
			ExternalSubscriptionID: "sub_ext_9",
			ExternalCustomerID:     "cus_9",
			Amount:                 2999,
			Currency:               "usd",
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", fetcher.calls)
	}
	created, ok := subs.byExternal["sub_ext_9"]
	if !ok {
		t.Fatalf("expected subscription created on demand")
	}
	if created.UserID != "user-9" {
		t.Fatalf("expected resolved user, got %q", created.UserID)
	}
	if row := txs.byInvoice["in_7"]; row.SubscriptionID != created.ID {
		t.Fatalf("expected row bound to created subscription")
	}
}

func TestReconciler_UnresolvableEntityIsAcknowledged(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_8",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_8",
			ExternalSubscriptionID: "sub_missing",
			ExternalCustomerID:     "cus_missing",
			Amount:                 100,
		},
	})
	if !core.IsUnresolvableEntity(err) {
		t.Fatalf("expected unresolvable entity error, got %v", err)
	}
	if len(txs.byInvoice) != 0 {
		t.Fatalf("expected no ledger rows for unresolvable event")
	}
}

func TestReconciler_StorageFailureIsRetryable(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)
	subs.updateErr = fmt.Errorf("connection reset")

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_9",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_9",
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Amount:                 100,
		},
	})
	if !core.IsRetryableStorage(err) {
		t.Fatalf("expected retryable storage error, got %v", err)
	}

	// Redelivery after the partial write dedupes on the ledger row that
	// already committed.
	subs.updateErr = nil
	if err := reconciler.Apply(context.Background(), Event{
		ID:   "evt_9",
		Kind: EventInvoicePaymentSucceeded,
		Invoice: &InvoiceDetails{
			ExternalInvoiceID:      "in_9",
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Amount:                 100,
		},
	}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(txs.byInvoice) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(txs.byInvoice))
	}
}

func TestReconciler_RedeliveryConvergesSubscriptionAfterPartialApply(t *testing.T) {
	t.Run("payment succeeded", func(t *testing.T) {
		subs := newFakeSubscriptionStore()
		txs := newFakeTransactionStore()
		seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusPastDue)
		withAttempts := subs.byExternal["sub_ext_1"]
		withAttempts.FailedPaymentAttempts = 2
		subs.byExternal["sub_ext_1"] = withAttempts

		reconciler := newTestReconciler(t, subs, txs, nil, nil)
		event := Event{
			ID:   "evt_20",
			Kind: EventInvoicePaymentSucceeded,
			Invoice: &InvoiceDetails{
				ExternalInvoiceID:      "in_20",
				ExternalSubscriptionID: "sub_ext_1",
				ExternalCustomerID:     "cus_1",
				Amount:                 1999,
				Currency:               "usd",
			},
		}

		// First delivery commits the ledger row, then loses the
		// subscription write.
		subs.updateErr = fmt.Errorf("connection reset")
		if err := reconciler.Apply(context.Background(), event); !core.IsRetryableStorage(err) {
			t.Fatalf("expected retryable storage error, got %v", err)
		}
		if len(txs.byInvoice) != 1 {
			t.Fatalf("expected committed ledger row, got %d", len(txs.byInvoice))
		}

		subs.updateErr = nil
		if err := reconciler.Apply(context.Background(), event); err != nil {
			t.Fatalf("redelivery: %v", err)
		}
		sub := subs.byExternal["sub_ext_1"]
		if sub.Status != core.SubscriptionStatusActive {
			t.Fatalf("expected redelivery to land the transition, got status %s", sub.Status)
		}
		if sub.FailedPaymentAttempts != 0 {
			t.Fatalf("expected attempts reset on redelivery, got %d", sub.FailedPaymentAttempts)
		}
		if len(txs.byInvoice) != 1 {
			t.Fatalf("expected one ledger row, got %d", len(txs.byInvoice))
		}
	})

	t.Run("payment failed does not double count attempts", func(t *testing.T) {
		subs := newFakeSubscriptionStore()
		txs := newFakeTransactionStore()
		seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

		reconciler := newTestReconciler(t, subs, txs, nil, nil)
		event := Event{
			ID:   "evt_21",
			Kind: EventInvoicePaymentFailed,
			Invoice: &InvoiceDetails{
				ExternalInvoiceID:      "in_21",
				ExternalSubscriptionID: "sub_ext_1",
				ExternalCustomerID:     "cus_1",
				Amount:                 1999,
				Currency:               "usd",
			},
		}

		subs.updateErr = fmt.Errorf("connection reset")
		if err := reconciler.Apply(context.Background(), event); !core.IsRetryableStorage(err) {
			t.Fatalf("expected retryable storage error, got %v", err)
		}

		subs.updateErr = nil
		for i := 0; i < 2; i++ {
			if err := reconciler.Apply(context.Background(), event); err != nil {
				t.Fatalf("redelivery %d: %v", i, err)
			}
		}
		sub := subs.byExternal["sub_ext_1"]
		if sub.Status != core.SubscriptionStatusPastDue {
			t.Fatalf("expected past_due after redelivery, got %s", sub.Status)
		}
		if sub.FailedPaymentAttempts > 1 {
			t.Fatalf("expected at most one counted attempt, got %d", sub.FailedPaymentAttempts)
		}
	})
}

func TestReconciler_DeletionOfUnseenSubscriptionCreatesThenCancels(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	users := &fakeUserResolver{byCustomer: map[string]string{"cus_7": "user-7"}}

	reconciler := newTestReconciler(t, subs, txs, nil, users)
	err := reconciler.Apply(context.Background(), Event{
		ID:         "evt_30",
		Kind:       EventSubscriptionDeleted,
		OccurredAt: now,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_7",
			ExternalCustomerID:     "cus_7",
			PriceID:                "price_basic",
			Status:                 core.SubscriptionStatusActive,
			CurrentPeriodEnd:       now.Add(10 * 24 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("apply deletion: %v", err)
	}

	sub, ok := subs.byExternal["sub_ext_7"]
	if !ok {
		t.Fatalf("expected subscription created from the deletion payload")
	}
	if sub.UserID != "user-7" {
		t.Fatalf("expected resolved user, got %q", sub.UserID)
	}
	if sub.Status != core.SubscriptionStatusActive || !sub.CancelAtPeriodEnd {
		t.Fatalf("expected grace period to apply to the created record: %+v", sub)
	}

	// Without a resolvable user the deletion stays unresolvable.
	unresolvedErr := reconciler.Apply(context.Background(), Event{
		ID:         "evt_31",
		Kind:       EventSubscriptionDeleted,
		OccurredAt: now,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_8",
			ExternalCustomerID:     "cus_unknown",
			CurrentPeriodEnd:       now.Add(-time.Hour),
		},
	})
	if !core.IsUnresolvableEntity(unresolvedErr) {
		t.Fatalf("expected unresolvable entity error, got %v", unresolvedErr)
	}
}

func TestReconciler_StaleUpdateDoesNotRevertCancellation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	futureEnd := now.Add(10 * 24 * time.Hour)
	if err := reconciler.Apply(context.Background(), Event{
		ID:         "evt_40",
		Kind:       EventSubscriptionDeleted,
		OccurredAt: now,
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			CurrentPeriodEnd:       futureEnd,
		},
	}); err != nil {
		t.Fatalf("apply deletion: %v", err)
	}

	// An update that fired before the deletion arrives late. It must
	// not flip the cancellation flag back.
	if err := reconciler.Apply(context.Background(), Event{
		ID:         "evt_41",
		Kind:       EventSubscriptionUpdated,
		OccurredAt: now.Add(-time.Minute),
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Status:                 core.SubscriptionStatusActive,
			CancelAtPeriodEnd:      false,
		},
	}); err != nil {
		t.Fatalf("apply stale update: %v", err)
	}
	sub := subs.byExternal["sub_ext_1"]
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("stale update reverted the cancellation flag")
	}

	// A genuinely newer update still applies.
	if err := reconciler.Apply(context.Background(), Event{
		ID:         "evt_42",
		Kind:       EventSubscriptionUpdated,
		OccurredAt: now.Add(time.Minute),
		Subscription: &SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			ExternalCustomerID:     "cus_1",
			Status:                 core.SubscriptionStatusActive,
			CancelAtPeriodEnd:      false,
		},
	}); err != nil {
		t.Fatalf("apply newer update: %v", err)
	}
	sub = subs.byExternal["sub_ext_1"]
	if sub.CancelAtPeriodEnd {
		t.Fatalf("expected newer update to clear the cancellation flag")
	}
	if !sub.LastEventAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected last event timestamp advanced, got %v", sub.LastEventAt)
	}
}

func TestReconciler_ChargeRefundedMarksLedgerRow(t *testing.T) {
	subs := newFakeSubscriptionStore()
	txs := newFakeTransactionStore()
	seeded := seededSubscription(subs, "sub_ext_1", "cus_1", "price_basic", core.SubscriptionStatusActive)
	_, _, err := txs.Insert(context.Background(), core.InsertTransactionInput{
		SubscriptionID:    seeded.ID,
		ExternalInvoiceID: "in_10",
		ExternalChargeID:  "ch_10",
		Kind:              core.TransactionKindPayment,
		Amount:            1999,
		Currency:          "usd",
		Status:            core.TransactionStatusSucceeded,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	reconciler := newTestReconciler(t, subs, txs, nil, nil)
	applyErr := reconciler.Apply(context.Background(), Event{
		ID:   "evt_10",
		Kind: EventChargeRefunded,
		Refund: &RefundDetails{
			ExternalChargeID: "ch_10",
			AmountRefunded:   1999,
		},
	})
	if applyErr != nil {
		t.Fatalf("apply refund: %v", applyErr)
	}

	row := txs.byCharge["ch_10"]
	if row.Status != core.TransactionStatusRefunded {
		t.Fatalf("expected refunded status, got %s", row.Status)
	}
	if row.RefundedAmount != 1999 || row.RefundedAt == nil {
		t.Fatalf("expected refund amount and timestamp, got %+v", row)
	}

	missingErr := reconciler.Apply(context.Background(), Event{
		ID:   "evt_11",
		Kind: EventChargeRefunded,
		Refund: &RefundDetails{
			ExternalChargeID: "ch_missing",
			AmountRefunded:   100,
		},
	})
	if !core.IsUnresolvableEntity(missingErr) {
		t.Fatalf("expected unresolvable for unknown charge, got %v", missingErr)
	}
}
