package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-billing-connect/billing"
	"github.com/goliatone/go-billing-connect/core"
)

type scriptedDecoder struct {
	event billing.Event
	err   error
	calls int
}

func (d *scriptedDecoder) Decode(context.Context, core.InboundRequest) (billing.Event, error) {
	d.calls++
	if d.err != nil {
		return billing.Event{}, d.err
	}
	return d.event, nil
}

type scriptedApplier struct {
	errs  []error
	calls int
}

func (a *scriptedApplier) Apply(context.Context, billing.Event) error {
	a.calls++
	if len(a.errs) == 0 {
		return nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return err
}

func subscriptionEvent(id string) billing.Event {
	return billing.Event{
		ID:   id,
		Kind: billing.EventSubscriptionUpdated,
		Subscription: &billing.SubscriptionState{
			ExternalSubscriptionID: "sub_ext_1",
			Status:                 core.SubscriptionStatusActive,
		},
	}
}

func TestProcessor_InvalidSignatureRejectsWithoutStateChange(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{err: core.NewSignatureInvalid("signature mismatch")}
	applier := &scriptedApplier{}
	processor := NewProcessor(decoder, ledger, applier)

	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "stripe",
		Body:       []byte(`{"id":"evt_1"}`),
	})
	if err == nil || !core.IsSignatureInvalid(err) {
		t.Fatalf("expected signature invalid error, got %v", err)
	}
	if result.Accepted || result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected permanent 400 rejection, got %+v", result)
	}
	if applier.calls != 0 {
		t.Fatalf("expected no state change on invalid signature")
	}
	if len(ledger.records) != 0 {
		t.Fatalf("expected no ledger record for rejected delivery")
	}
}

func TestProcessor_DuplicateDeliveryIsAcknowledgedOnce(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{event: subscriptionEvent("evt_1")}
	applier := &scriptedApplier{}
	processor := NewProcessor(decoder, ledger, applier)

	req := core.InboundRequest{ProviderID: "stripe", Body: []byte(`{}`)}
	for i := 0; i < 3; i++ {
		result, err := processor.Process(context.Background(), req)
		if err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if !result.Accepted || result.StatusCode != http.StatusOK {
			t.Fatalf("process %d: expected 200 ack, got %+v", i, result)
		}
		if i > 0 && result.Metadata["deduped"] != true {
			t.Fatalf("process %d: expected deduped metadata, got %+v", i, result.Metadata)
		}
	}
	if applier.calls != 1 {
		t.Fatalf("expected exactly one apply, got %d", applier.calls)
	}
}

func TestProcessor_RetryableFailureReturns500ThenRecovers(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{event: subscriptionEvent("evt_2")}
	applier := &scriptedApplier{errs: []error{
		core.NewRetryableStorage(fmt.Errorf("connection reset")),
	}}
	processor := NewProcessor(decoder, ledger, applier)

	req := core.InboundRequest{ProviderID: "stripe", Body: []byte(`{}`)}
	result, err := processor.Process(context.Background(), req)
	if err == nil || !core.IsRetryableStorage(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 to trigger redelivery, got %d", result.StatusCode)
	}
	record, getErr := ledger.Get(context.Background(), "stripe", "evt_2")
	if getErr != nil {
		t.Fatalf("get record: %v", getErr)
	}
	if record.Status != DeliveryStatusRetryReady {
		t.Fatalf("expected retry_ready, got %s", record.Status)
	}

	result, err = processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected successful redelivery, got %+v", result)
	}
	if applier.calls != 2 {
		t.Fatalf("expected two applies, got %d", applier.calls)
	}
	record, _ = ledger.Get(context.Background(), "stripe", "evt_2")
	if record.Status != DeliveryStatusProcessed {
		t.Fatalf("expected processed, got %s", record.Status)
	}
}

func TestProcessor_UnresolvableEntityIsAcknowledged(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{event: subscriptionEvent("evt_3")}
	applier := &scriptedApplier{errs: []error{
		core.NewUnresolvableEntity("subscription unknown"),
	}}
	processor := NewProcessor(decoder, ledger, applier)

	req := core.InboundRequest{ProviderID: "stripe", Body: []byte(`{}`)}
	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack, got %+v", result)
	}
	if result.Metadata["unresolvable"] != true {
		t.Fatalf("expected unresolvable metadata, got %+v", result.Metadata)
	}

	// Redelivery of an acknowledged event dedupes without a new apply.
	if _, err := processor.Process(context.Background(), req); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if applier.calls != 1 {
		t.Fatalf("expected one apply, got %d", applier.calls)
	}
}

func TestProcessor_MaxAttemptsDeadLettersDelivery(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{event: subscriptionEvent("evt_4")}
	applier := &scriptedApplier{errs: []error{
		core.NewRetryableStorage(fmt.Errorf("down")),
		core.NewRetryableStorage(fmt.Errorf("down")),
	}}
	processor := NewProcessor(decoder, ledger, applier)
	processor.MaxAttempts = 2

	req := core.InboundRequest{ProviderID: "stripe", Body: []byte(`{}`)}
	for i := 0; i < 2; i++ {
		if _, err := processor.Process(context.Background(), req); err == nil {
			t.Fatalf("process %d: expected failure", i)
		}
	}
	record, err := ledger.Get(context.Background(), "stripe", "evt_4")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != DeliveryStatusDead {
		t.Fatalf("expected dead letter after max attempts, got %s", record.Status)
	}
}

func TestHTTPHandler_PostsRawBodyThroughProcessor(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	decoder := &scriptedDecoder{event: subscriptionEvent("evt_5")}
	applier := &scriptedApplier{}
	handler := NewHTTPHandler("stripe", NewProcessor(decoder, ledger, applier))

	body := []byte(`{"id":"evt_5","type":"customer.subscription.updated"}`)
	request := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	request.Header.Set("Stripe-Signature", "t=1,v1=abc")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if applier.calls != 1 {
		t.Fatalf("expected one apply, got %d", applier.calls)
	}

	getRequest := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, getRequest)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", recorder.Code)
	}
}
