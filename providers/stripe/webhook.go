package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/goliatone/go-billing-connect/billing"
	"github.com/goliatone/go-billing-connect/core"
	"github.com/goliatone/go-billing-connect/webhooks"
)

const signatureHeader = "Stripe-Signature"

// WebhookDecoder verifies the Stripe-Signature header against the raw
// delivery body and normalizes the payload into a billing event.
type WebhookDecoder struct {
	SigningSecret            string
	IgnoreAPIVersionMismatch bool
}

func NewWebhookDecoder(signingSecret string) *WebhookDecoder {
	return &WebhookDecoder{
		SigningSecret:            strings.TrimSpace(signingSecret),
		IgnoreAPIVersionMismatch: true,
	}
}

func (d *WebhookDecoder) Decode(_ context.Context, req core.InboundRequest) (billing.Event, error) {
	if d == nil || strings.TrimSpace(d.SigningSecret) == "" {
		return billing.Event{}, fmt.Errorf("providers/stripe: webhook signing secret is required")
	}
	signature := headerValue(req.Headers, signatureHeader)
	if signature == "" {
		return billing.Event{}, core.NewSignatureInvalid("missing Stripe-Signature header")
	}

	event, err := webhook.ConstructEventWithOptions(req.Body, signature, d.SigningSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: d.IgnoreAPIVersionMismatch,
	})
	if err != nil {
		return billing.Event{}, core.NewSignatureInvalid(fmt.Sprintf("stripe signature verification failed: %v", err))
	}
	return ParseEvent(event)
}

// ParseEvent maps a verified Stripe event onto the normalized billing
// model. Event types outside the reconciler's vocabulary report
// unsupported so the processor acknowledges without effect.
func ParseEvent(event stripeapi.Event) (billing.Event, error) {
	normalized := billing.Event{
		ID:         strings.TrimSpace(event.ID),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case "customer.subscription.created":
		normalized.Kind = billing.EventSubscriptionCreated
		return withSubscriptionPayload(normalized, event)
	case "customer.subscription.updated":
		normalized.Kind = billing.EventSubscriptionUpdated
		return withSubscriptionPayload(normalized, event)
	case "customer.subscription.deleted":
		normalized.Kind = billing.EventSubscriptionDeleted
		return withSubscriptionPayload(normalized, event)
	case "invoice.payment_succeeded", "invoice.paid":
		normalized.Kind = billing.EventInvoicePaymentSucceeded
		return withInvoicePayload(normalized, event, true)
	case "invoice.payment_failed":
		normalized.Kind = billing.EventInvoicePaymentFailed
		return withInvoicePayload(normalized, event, false)
	case "charge.refunded":
		normalized.Kind = billing.EventChargeRefunded
		return withRefundPayload(normalized, event)
	default:
		return billing.Event{}, fmt.Errorf("%w: %s", webhooks.ErrUnsupportedEvent, event.Type)
	}
}

func withSubscriptionPayload(normalized billing.Event, event stripeapi.Event) (billing.Event, error) {
	var subscription stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return billing.Event{}, fmt.Errorf("providers/stripe: decode subscription payload: %w", err)
	}
	state := subscriptionState(&subscription)
	normalized.Subscription = &state
	return normalized, nil
}

func withInvoicePayload(normalized billing.Event, event stripeapi.Event, succeeded bool) (billing.Event, error) {
	var invoice stripeapi.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return billing.Event{}, fmt.Errorf("providers/stripe: decode invoice payload: %w", err)
	}

	details := billing.InvoiceDetails{
		ExternalInvoiceID: strings.TrimSpace(invoice.ID),
		Currency:          strings.ToLower(string(invoice.Currency)),
	}
	if invoice.Customer != nil {
		details.ExternalCustomerID = invoice.Customer.ID
	}
	if invoice.Subscription != nil {
		details.ExternalSubscriptionID = invoice.Subscription.ID
	}
	if invoice.Charge != nil {
		details.ExternalChargeID = invoice.Charge.ID
	}
	if succeeded {
		details.Amount = invoice.AmountPaid
	} else {
		details.Amount = invoice.AmountDue
	}

	periodStart, periodEnd := invoicePeriod(&invoice)
	details.PeriodStart = periodStart
	details.PeriodEnd = periodEnd

	normalized.Invoice = &details
	return normalized, nil
}

func withRefundPayload(normalized billing.Event, event stripeapi.Event) (billing.Event, error) {
	var charge stripeapi.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return billing.Event{}, fmt.Errorf("providers/stripe: decode charge payload: %w", err)
	}
	normalized.Refund = &billing.RefundDetails{
		ExternalChargeID: strings.TrimSpace(charge.ID),
		AmountRefunded:   charge.AmountRefunded,
	}
	return normalized, nil
}

func subscriptionState(subscription *stripeapi.Subscription) billing.SubscriptionState {
	state := billing.SubscriptionState{
		ExternalSubscriptionID: strings.TrimSpace(subscription.ID),
		Status:                 mapSubscriptionStatus(subscription.Status),
		CancelAtPeriodEnd:      subscription.CancelAtPeriodEnd,
	}
	if subscription.Customer != nil {
		state.ExternalCustomerID = subscription.Customer.ID
	}
	if subscription.Items != nil && len(subscription.Items.Data) > 0 && subscription.Items.Data[0].Price != nil {
		state.PriceID = subscription.Items.Data[0].Price.ID
	}
	if subscription.CurrentPeriodStart > 0 {
		state.CurrentPeriodStart = time.Unix(subscription.CurrentPeriodStart, 0).UTC()
	}
	if subscription.CurrentPeriodEnd > 0 {
		state.CurrentPeriodEnd = time.Unix(subscription.CurrentPeriodEnd, 0).UTC()
	}
	if subscription.TrialEnd > 0 {
		trialEnd := time.Unix(subscription.TrialEnd, 0).UTC()
		state.TrialEnd = &trialEnd
	}
	return state
}

func invoicePeriod(invoice *stripeapi.Invoice) (time.Time, time.Time) {
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period != nil {
		period := invoice.Lines.Data[0].Period
		return time.Unix(period.Start, 0).UTC(), time.Unix(period.End, 0).UTC()
	}
	var start, end time.Time
	if invoice.PeriodStart > 0 {
		start = time.Unix(invoice.PeriodStart, 0).UTC()
	}
	if invoice.PeriodEnd > 0 {
		end = time.Unix(invoice.PeriodEnd, 0).UTC()
	}
	return start, end
}

func mapSubscriptionStatus(status stripeapi.SubscriptionStatus) core.SubscriptionStatus {
	switch status {
	case stripeapi.SubscriptionStatusTrialing:
		return core.SubscriptionStatusTrialing
	case stripeapi.SubscriptionStatusActive:
		return core.SubscriptionStatusActive
	case stripeapi.SubscriptionStatusPastDue, stripeapi.SubscriptionStatusUnpaid:
		return core.SubscriptionStatusPastDue
	case stripeapi.SubscriptionStatusCanceled, stripeapi.SubscriptionStatusIncompleteExpired:
		return core.SubscriptionStatusCancelled
	case stripeapi.SubscriptionStatusPaused:
		return core.SubscriptionStatusPaused
	default:
		return core.SubscriptionStatusIncomplete
	}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ webhooks.EventDecoder = (*WebhookDecoder)(nil)
