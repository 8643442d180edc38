package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

// RemoteSubscriptionFetcher pulls the authoritative subscription state
// from the provider when a webhook references a subscription the local
// store has never seen.
type RemoteSubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, externalSubscriptionID string) (SubscriptionState, error)
}

// UserResolver maps an external customer id to the owning local user.
// Needed only when the reconciler has to create a subscription record
// on demand.
type UserResolver interface {
	ResolveUserByCustomer(ctx context.Context, externalCustomerID string) (string, error)
}

// ReconcilerConfig wires the reconciler's collaborators.
type ReconcilerConfig struct {
	Subscriptions core.SubscriptionStore
	Transactions  core.TransactionStore
	Fetcher       RemoteSubscriptionFetcher
	Users         UserResolver
	Logger        core.Logger
	Now           func() time.Time
}

// Reconciler folds normalized billing events into the local
// subscription and transaction state. Every apply is idempotent under
// at-least-once delivery: ledger inserts are conditional on their
// external key and status transitions converge on redelivery.
type Reconciler struct {
	subscriptions core.SubscriptionStore
	transactions  core.TransactionStore
	fetcher       RemoteSubscriptionFetcher
	users         UserResolver
	logger        core.Logger
	nowFn         func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Subscriptions == nil {
		return nil, fmt.Errorf("billing: subscription store is required")
	}
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("billing: transaction store is required")
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		subscriptions: cfg.Subscriptions,
		transactions:  cfg.Transactions,
		fetcher:       cfg.Fetcher,
		users:         cfg.Users,
		logger:        glog.Ensure(cfg.Logger),
		nowFn:         nowFn,
	}, nil
}

// Apply reconciles one event. Error semantics drive delivery acks:
// retryable storage errors must surface as 500 so the provider
// redelivers, unresolvable entities must be acknowledged so the
// provider stops.
func (r *Reconciler) Apply(ctx context.Context, event Event) error {
	if r == nil {
		return fmt.Errorf("billing: reconciler is nil")
	}
	if err := event.Validate(); err != nil {
		return err
	}

	switch event.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.applySubscriptionUpsert(ctx, event)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, event)
	case EventInvoicePaymentSucceeded:
		return r.applyInvoice(ctx, event, true)
	case EventInvoicePaymentFailed:
		return r.applyInvoice(ctx, event, false)
	case EventChargeRefunded:
		return r.applyChargeRefunded(ctx, event)
	}
	return fmt.Errorf("billing: unknown event kind %q", event.Kind)
}

func (r *Reconciler) applySubscriptionUpsert(ctx context.Context, event Event) error {
	state := *event.Subscription
	now := r.now()

	existing, err := r.subscriptions.GetByExternalID(ctx, state.ExternalSubscriptionID)
	switch {
	case err == nil:
		if staleEvent(event, existing) {
			r.logStale(ctx, event, existing.LastEventAt)
			return nil
		}
		priorPriceID := strings.TrimSpace(existing.PriceID)
		applySubscriptionState(&existing, state, now)
		stampLastEvent(&existing, event)
		if updateErr := r.subscriptions.Update(ctx, existing); updateErr != nil {
			return core.NewRetryableStorage(updateErr)
		}
		newPriceID := strings.TrimSpace(state.PriceID)
		if priorPriceID != "" && newPriceID != "" && priorPriceID != newPriceID {
			return r.appendPlanChange(ctx, event, existing, priorPriceID, newPriceID)
		}
		return nil
	case core.IsNotFound(err):
		_, _, createErr := r.createSubscription(ctx, state, event.OccurredAt)
		return createErr
	default:
		return core.NewRetryableStorage(err)
	}
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, event Event) error {
	state := *event.Subscription
	subscription, err := r.subscriptions.GetByExternalID(ctx, state.ExternalSubscriptionID)
	switch {
	case err == nil:
	case core.IsNotFound(err):
		// The deletion payload carries the full subscription state, so
		// an unseen subscription is created first and then cancelled
		// through the same guard instead of dropping the event.
		created, _, createErr := r.createSubscription(ctx, state, event.OccurredAt)
		if createErr != nil {
			if core.IsUnresolvableEntity(createErr) {
				r.logUnresolvable(ctx, event, createErr.Error())
			}
			return createErr
		}
		subscription = created
	default:
		return core.NewRetryableStorage(err)
	}

	if staleEvent(event, subscription) {
		r.logStale(ctx, event, subscription.LastEventAt)
		return nil
	}

	// The grace guard lives on the domain type: a deletion whose paid
	// period has not elapsed keeps the subscription active until the
	// period end instead of cutting entitlement early.
	subscription.ApplyDeletion(state.CurrentPeriodEnd, r.now())
	stampLastEvent(&subscription, event)
	if err := r.subscriptions.Update(ctx, subscription); err != nil {
		return core.NewRetryableStorage(err)
	}
	return nil
}

func (r *Reconciler) applyInvoice(ctx context.Context, event Event, succeeded bool) error {
	invoice := *event.Invoice

	duplicate := false
	if _, err := r.transactions.GetByExternalInvoiceID(ctx, invoice.ExternalInvoiceID); err == nil {
		duplicate = true
	} else if !core.IsNotFound(err) {
		return core.NewRetryableStorage(err)
	}

	subscription, err := r.resolveSubscription(ctx, invoice)
	if err != nil {
		if core.IsUnresolvableEntity(err) {
			r.logUnresolvable(ctx, event, err.Error())
			if duplicate {
				// The ledger row already committed and its subscription
				// is gone; there is nothing left to converge.
				return nil
			}
		}
		return err
	}

	if !duplicate {
		status := core.TransactionStatusSucceeded
		if !succeeded {
			status = core.TransactionStatusFailed
		}
		_, created, insertErr := r.transactions.Insert(ctx, core.InsertTransactionInput{
			SubscriptionID:    subscription.ID,
			ExternalInvoiceID: invoice.ExternalInvoiceID,
			ExternalChargeID:  invoice.ExternalChargeID,
			Kind:              core.TransactionKindPayment,
			Amount:            invoice.Amount,
			Currency:          invoice.Currency,
			Status:            status,
			PeriodStart:       invoice.PeriodStart,
			PeriodEnd:         invoice.PeriodEnd,
		})
		if insertErr != nil {
			return core.NewRetryableStorage(insertErr)
		}
		duplicate = !created
	}
	if duplicate {
		r.logDuplicate(ctx, event, invoice.ExternalInvoiceID)
	}

	// The subscription transition runs on the duplicate path too: a
	// redelivery after the ledger row committed but before the
	// subscription write must still converge. Every assignment here is
	// idempotent; only the failed-attempt counter is gated on the first
	// application so redeliveries cannot double-count.
	now := r.now()
	if succeeded {
		subscription.Status = core.SubscriptionStatusActive
		subscription.FailedPaymentAttempts = 0
		if !invoice.PeriodStart.IsZero() {
			subscription.CurrentPeriodStart = invoice.PeriodStart.UTC()
		}
		if !invoice.PeriodEnd.IsZero() {
			subscription.CurrentPeriodEnd = invoice.PeriodEnd.UTC()
		}
	} else {
		if !duplicate {
			subscription.FailedPaymentAttempts++
		}
		subscription.Status = core.SubscriptionStatusPastDue
	}
	subscription.UpdatedAt = now
	if err := r.subscriptions.Update(ctx, subscription); err != nil {
		return core.NewRetryableStorage(err)
	}
	return nil
}

func (r *Reconciler) applyChargeRefunded(ctx context.Context, event Event) error {
	refund := *event.Refund
	transaction, err := r.transactions.GetByExternalChargeID(ctx, refund.ExternalChargeID)
	switch {
	case err == nil:
	case core.IsNotFound(err):
		r.logUnresolvable(ctx, event, "charge not found for refund")
		return core.NewUnresolvableEntity(
			fmt.Sprintf("billing: charge %s not found", refund.ExternalChargeID),
		)
	default:
		return core.NewRetryableStorage(err)
	}

	if err := transaction.MarkRefunded(refund.AmountRefunded, r.now()); err != nil {
		return err
	}
	if err := r.transactions.Update(ctx, transaction); err != nil {
		return core.NewRetryableStorage(err)
	}
	return nil
}

// resolveSubscription walks the three-tier resolution chain: local by
// external subscription id, latest open subscription for the payer's
// customer id, then an authoritative provider fetch with
// create-if-absent.
func (r *Reconciler) resolveSubscription(ctx context.Context, invoice InvoiceDetails) (core.Subscription, error) {
	externalID := strings.TrimSpace(invoice.ExternalSubscriptionID)
	if externalID != "" {
		subscription, err := r.subscriptions.GetByExternalID(ctx, externalID)
		if err == nil {
			return subscription, nil
		}
		if !core.IsNotFound(err) {
			return core.Subscription{}, core.NewRetryableStorage(err)
		}
	}

	customerID := strings.TrimSpace(invoice.ExternalCustomerID)
	if customerID != "" {
		subscription, err := r.subscriptions.FindLatestOpenByCustomer(ctx, customerID)
		if err == nil {
			return subscription, nil
		}
		if !core.IsNotFound(err) {
			return core.Subscription{}, core.NewRetryableStorage(err)
		}
	}

	if externalID == "" || r.fetcher == nil {
		return core.Subscription{}, core.NewUnresolvableEntity(
			fmt.Sprintf("billing: invoice %s references no resolvable subscription", invoice.ExternalInvoiceID),
		)
	}

	state, err := r.fetcher.FetchSubscription(ctx, externalID)
	if err != nil {
		return core.Subscription{}, core.NewUnresolvableEntity(
			fmt.Sprintf("billing: subscription %s could not be fetched: %v", externalID, err),
		)
	}
	if strings.TrimSpace(state.ExternalCustomerID) == "" {
		state.ExternalCustomerID = customerID
	}
	// The fetched state is authoritative as of the fetch, not as of the
	// webhook that triggered it.
	subscription, _, err := r.createSubscription(ctx, state, r.now())
	return subscription, err
}

func (r *Reconciler) createSubscription(ctx context.Context, state SubscriptionState, occurredAt time.Time) (core.Subscription, bool, error) {
	userID, err := r.resolveUser(ctx, state.ExternalCustomerID)
	if err != nil {
		return core.Subscription{}, false, err
	}
	subscription, created, err := r.subscriptions.CreateIfAbsent(ctx, core.UpsertSubscriptionInput{
		UserID:                 userID,
		ExternalSubscriptionID: state.ExternalSubscriptionID,
		ExternalCustomerID:     state.ExternalCustomerID,
		PriceID:                state.PriceID,
		Status:                 state.Status,
		CurrentPeriodStart:     state.CurrentPeriodStart,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		TrialEnd:               state.TrialEnd,
		CancelAtPeriodEnd:      state.CancelAtPeriodEnd,
		LastEventAt:            occurredAt,
	})
	if err != nil {
		return core.Subscription{}, false, core.NewRetryableStorage(err)
	}
	return subscription, created, nil
}

func (r *Reconciler) resolveUser(ctx context.Context, externalCustomerID string) (string, error) {
	customerID := strings.TrimSpace(externalCustomerID)
	if customerID == "" {
		return "", core.NewUnresolvableEntity("billing: subscription carries no customer id")
	}
	if r.users == nil {
		return "", core.NewUnresolvableEntity(
			fmt.Sprintf("billing: no user resolver configured for customer %s", customerID),
		)
	}
	userID, err := r.users.ResolveUserByCustomer(ctx, customerID)
	if err != nil || strings.TrimSpace(userID) == "" {
		return "", core.NewUnresolvableEntity(
			fmt.Sprintf("billing: no local user for customer %s", customerID),
		)
	}
	return userID, nil
}

// appendPlanChange records a zero-amount ledger row for a price change,
// keyed by the provider event id so redelivery dedupes naturally.
func (r *Reconciler) appendPlanChange(ctx context.Context, event Event, subscription core.Subscription, fromPriceID, toPriceID string) error {
	_, created, err := r.transactions.Insert(ctx, core.InsertTransactionInput{
		SubscriptionID:    subscription.ID,
		ExternalInvoiceID: event.ID,
		Kind:              core.TransactionKindPlanChange,
		Amount:            0,
		Status:            core.TransactionStatusSucceeded,
		PeriodStart:       subscription.CurrentPeriodStart,
		PeriodEnd:         subscription.CurrentPeriodEnd,
	})
	if err != nil {
		return core.NewRetryableStorage(err)
	}
	if created {
		r.logger.Info("plan change recorded",
			"subscription_id", subscription.ID,
			"from_price_id", fromPriceID,
			"to_price_id", toPriceID,
			"event_id", event.ID,
		)
	}
	return nil
}

func applySubscriptionState(subscription *core.Subscription, state SubscriptionState, now time.Time) {
	if subscription == nil {
		return
	}
	if strings.TrimSpace(state.ExternalCustomerID) != "" {
		subscription.ExternalCustomerID = state.ExternalCustomerID
	}
	if strings.TrimSpace(state.PriceID) != "" {
		subscription.PriceID = state.PriceID
	}
	if state.Status != "" {
		subscription.Status = state.Status
	}
	if !state.CurrentPeriodStart.IsZero() {
		subscription.CurrentPeriodStart = state.CurrentPeriodStart.UTC()
	}
	if !state.CurrentPeriodEnd.IsZero() {
		subscription.CurrentPeriodEnd = state.CurrentPeriodEnd.UTC()
	}
	if state.TrialEnd != nil {
		trialEnd := state.TrialEnd.UTC()
		subscription.TrialEnd = &trialEnd
	}
	subscription.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	subscription.UpdatedAt = now
}

// staleEvent reports whether the event predates the newest subscription
// event already applied. Providers deliver out of order; a stale update
// must not revert a later cancellation or period advance. Events
// without a timestamp are applied as-is.
func staleEvent(event Event, subscription core.Subscription) bool {
	if event.OccurredAt.IsZero() || subscription.LastEventAt.IsZero() {
		return false
	}
	return event.OccurredAt.Before(subscription.LastEventAt)
}

func stampLastEvent(subscription *core.Subscription, event Event) {
	if subscription == nil || event.OccurredAt.IsZero() {
		return
	}
	subscription.LastEventAt = event.OccurredAt.UTC()
}

func (r *Reconciler) now() time.Time {
	if r == nil || r.nowFn == nil {
		return time.Now().UTC()
	}
	return r.nowFn().UTC()
}

func (r *Reconciler) logDuplicate(ctx context.Context, event Event, key string) {
	r.log(ctx).Info("duplicate delivery ignored",
		"event_id", event.ID,
		"event_kind", string(event.Kind),
		"dedupe_key", key,
	)
}

func (r *Reconciler) logStale(ctx context.Context, event Event, lastEventAt time.Time) {
	r.log(ctx).Info("stale subscription event skipped",
		"event_id", event.ID,
		"event_kind", string(event.Kind),
		"occurred_at", event.OccurredAt,
		"last_event_at", lastEventAt,
	)
}

func (r *Reconciler) logUnresolvable(ctx context.Context, event Event, reason string) {
	r.log(ctx).Error("event acknowledged without effect",
		"event_id", event.ID,
		"event_kind", string(event.Kind),
		"reason", reason,
	)
}

func (r *Reconciler) log(ctx context.Context) core.Logger {
	logger := r.logger
	if logger == nil {
		logger = glog.Ensure(nil)
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}
