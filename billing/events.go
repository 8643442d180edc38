package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
)

// EventKind identifies the normalized billing occurrences the
// reconciler understands. Provider adapters translate their native
// payloads into these kinds; anything else is dropped upstream.
type EventKind string

const (
	EventSubscriptionCreated     EventKind = "subscription.created"
	EventSubscriptionUpdated     EventKind = "subscription.updated"
	EventSubscriptionDeleted     EventKind = "subscription.deleted"
	EventInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventKind = "invoice.payment_failed"
	EventChargeRefunded          EventKind = "charge.refunded"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded,
		EventInvoicePaymentFailed,
		EventChargeRefunded:
		return true
	}
	return false
}

// SubscriptionState is the provider's authoritative view of one
// subscription at the moment the event fired.
type SubscriptionState struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	PriceID                string
	Status                 core.SubscriptionStatus
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
}

// InvoiceDetails carries the payment attempt an invoice event reports.
type InvoiceDetails struct {
	ExternalInvoiceID      string
	ExternalChargeID       string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Amount                 int64
	Currency               string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

// RefundDetails points at the original charge being refunded.
type RefundDetails struct {
	ExternalChargeID string
	AmountRefunded   int64
}

// Event is one normalized webhook occurrence. ID is the provider's
// event id and doubles as the idempotency key for ledger rows that
// have no invoice of their own.
type Event struct {
	ID           string
	Kind         EventKind
	OccurredAt   time.Time
	Subscription *SubscriptionState
	Invoice      *InvoiceDetails
	Refund       *RefundDetails
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("billing: event id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("billing: unknown event kind %q", e.Kind)
	}
	switch e.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if e.Subscription == nil || strings.TrimSpace(e.Subscription.ExternalSubscriptionID) == "" {
			return fmt.Errorf("billing: subscription payload is required for %s", e.Kind)
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		if e.Invoice == nil || strings.TrimSpace(e.Invoice.ExternalInvoiceID) == "" {
			return fmt.Errorf("billing: invoice payload is required for %s", e.Kind)
		}
	case EventChargeRefunded:
		if e.Refund == nil || strings.TrimSpace(e.Refund.ExternalChargeID) == "" {
			return fmt.Errorf("billing: refund payload is required for %s", e.Kind)
		}
	}
	return nil
}
