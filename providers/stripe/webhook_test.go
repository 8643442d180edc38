package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-billing-connect/billing"
	"github.com/goliatone/go-billing-connect/core"
	"github.com/goliatone/go-billing-connect/webhooks"
)

const testSigningSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	timestamp := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func inbound(t *testing.T, payload []byte, secret string) core.InboundRequest {
	t.Helper()
	return core.InboundRequest{
		ProviderID: ProviderID,
		Headers: map[string]string{
			signatureHeader: signedHeader(t, payload, secret, time.Now()),
		},
		Body: payload,
	}
}

func TestWebhookDecoder_SubscriptionUpdated(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "sub_123",
				"customer": "cus_123",
				"status": "active",
				"cancel_at_period_end": true,
				"current_period_start": 1767225600,
				"current_period_end": 1769904000,
				"items": {
					"data": [{"price": {"id": "price_pro"}}]
				}
			}
		}
	}`)

	decoder := NewWebhookDecoder(testSigningSecret)
	event, err := decoder.Decode(context.Background(), inbound(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ID != "evt_1" || event.Kind != billing.EventSubscriptionUpdated {
		t.Fatalf("unexpected event identity: %+v", event)
	}
	state := event.Subscription
	if state == nil {
		t.Fatalf("expected subscription payload")
	}
	if state.ExternalSubscriptionID != "sub_123" || state.ExternalCustomerID != "cus_123" {
		t.Fatalf("unexpected identifiers: %+v", state)
	}
	if state.Status != core.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %s", state.Status)
	}
	if state.PriceID != "price_pro" {
		t.Fatalf("expected price id, got %q", state.PriceID)
	}
	if !state.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end")
	}
	if state.CurrentPeriodEnd.IsZero() {
		t.Fatalf("expected period end parsed")
	}
}

func TestWebhookDecoder_InvoicePaymentFailedUsesAmountDue(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "invoice.payment_failed",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "in_123",
				"customer": "cus_123",
				"subscription": "sub_123",
				"charge": "ch_123",
				"amount_due": 2599,
				"amount_paid": 0,
				"currency": "usd",
				"lines": {
					"data": [{"period": {"start": 1767225600, "end": 1769904000}}]
				}
			}
		}
	}`)

	decoder := NewWebhookDecoder(testSigningSecret)
	event, err := decoder.Decode(context.Background(), inbound(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Kind != billing.EventInvoicePaymentFailed {
		t.Fatalf("expected payment failed kind, got %s", event.Kind)
	}
	invoice := event.Invoice
	if invoice == nil {
		t.Fatalf("expected invoice payload")
	}
	if invoice.ExternalInvoiceID != "in_123" || invoice.ExternalSubscriptionID != "sub_123" || invoice.ExternalChargeID != "ch_123" {
		t.Fatalf("unexpected identifiers: %+v", invoice)
	}
	if invoice.Amount != 2599 || invoice.Currency != "usd" {
		t.Fatalf("expected amount due carried, got %+v", invoice)
	}
	if invoice.PeriodStart.IsZero() || invoice.PeriodEnd.IsZero() {
		t.Fatalf("expected line period parsed")
	}
}

func TestWebhookDecoder_RejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","amount_refunded":100}}}`)
	decoder := NewWebhookDecoder(testSigningSecret)

	req := inbound(t, payload, "whsec_other_secret")
	if _, err := decoder.Decode(context.Background(), req); !core.IsSignatureInvalid(err) {
		t.Fatalf("expected signature invalid, got %v", err)
	}

	req = core.InboundRequest{ProviderID: ProviderID, Body: payload}
	if _, err := decoder.Decode(context.Background(), req); !core.IsSignatureInvalid(err) {
		t.Fatalf("expected signature invalid for missing header, got %v", err)
	}
}

func TestWebhookDecoder_UnsupportedTypeIsIgnored(t *testing.T) {
	payload := []byte(`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{}}}`)
	decoder := NewWebhookDecoder(testSigningSecret)
	_, err := decoder.Decode(context.Background(), inbound(t, payload, testSigningSecret))
	if !errors.Is(err, webhooks.ErrUnsupportedEvent) {
		t.Fatalf("expected unsupported event error, got %v", err)
	}
}

func TestWebhookDecoder_ChargeRefunded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_5",
		"type": "charge.refunded",
		"created": 1767225600,
		"data": {"object": {"id": "ch_9", "amount_refunded": 1999}}
	}`)
	decoder := NewWebhookDecoder(testSigningSecret)
	event, err := decoder.Decode(context.Background(), inbound(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Kind != billing.EventChargeRefunded {
		t.Fatalf("expected refund kind, got %s", event.Kind)
	}
	if event.Refund == nil || event.Refund.ExternalChargeID != "ch_9" || event.Refund.AmountRefunded != 1999 {
		t.Fatalf("unexpected refund payload: %+v", event.Refund)
	}
}
