package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/billing"
	"github.com/goliatone/go-billing-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord tracks one raw provider delivery through the ledger.
type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger claims deliveries for exclusive processing and records
// their outcome. Claim dedupes: a delivery already processed or held by
// a live claim reports claimed=false.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// ErrUnsupportedEvent marks payloads a decoder recognizes but the
// reconciler has no transition for. The processor acknowledges these so
// the provider stops redelivering.
var ErrUnsupportedEvent = errors.New("webhooks: unsupported event type")

// EventDecoder verifies a raw delivery's signature against the unparsed
// body and normalizes the payload. A signature failure must surface as
// a signature-invalid error so the processor rejects permanently.
type EventDecoder interface {
	Decode(ctx context.Context, req core.InboundRequest) (billing.Event, error)
}

// EventApplier folds a normalized event into local state. Satisfied by
// billing.Reconciler.
type EventApplier interface {
	Apply(ctx context.Context, event billing.Event) error
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor drives one delivery through verify, claim, apply, and
// outcome bookkeeping. Status codes follow at-least-once semantics:
// 400 rejects permanently, 200 acknowledges (including dedupes and
// unresolvable entities), 500 asks the provider to redeliver.
type Processor struct {
	Decoder     EventDecoder
	Ledger      DeliveryLedger
	Applier     EventApplier
	RetryPolicy RetryPolicy
	Logger      core.Logger
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(decoder EventDecoder, ledger DeliveryLedger, applier EventApplier) *Processor {
	return &Processor{
		Decoder:     decoder,
		Ledger:      ledger,
		Applier:     applier,
		RetryPolicy: ExponentialRetryPolicy{},
		Logger:      glog.Ensure(nil),
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Decoder == nil || p.Applier == nil || p.Ledger == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires decoder, ledger, and applier")
	}

	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return core.InboundResult{}, fmt.Errorf("webhooks: provider id is required")
	}
	req.ProviderID = providerID

	event, err := p.Decoder.Decode(ctx, req)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata: map[string]any{
					"provider_id": providerID,
					"ignored":     true,
				},
			}, nil
		}
		if core.IsSignatureInvalid(err) {
			p.log(ctx).Error("webhook signature rejected",
				"provider_id", providerID,
			)
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusBadRequest,
				Metadata: map[string]any{
					"provider_id": providerID,
					"rejected":    true,
				},
			}, err
		}
		return core.InboundResult{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata: map[string]any{
				"provider_id": providerID,
				"rejected":    true,
			},
		}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, providerID, event.ID, req.Body, p.claimLease())
	if err != nil {
		return core.InboundResult{}, err
	}
	if !claimed {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider_id": providerID,
				"delivery_id": delivery.DeliveryID,
				"status":      delivery.Status,
				"deduped":     true,
			},
		}, nil
	}

	applyErr := p.Applier.Apply(ctx, event)
	switch {
	case applyErr == nil:
	case core.IsUnresolvableEntity(applyErr):
		// Acknowledged: redelivery would not resolve the entity either.
		if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
			return core.InboundResult{}, err
		}
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider_id":  providerID,
				"delivery_id":  event.ID,
				"unresolvable": true,
			},
		}, nil
	default:
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, applyErr, nextAttemptAt, p.maxAttempts())
		return core.InboundResult{
			Accepted:   false,
			StatusCode: http.StatusInternalServerError,
			Metadata: map[string]any{
				"provider_id": providerID,
				"delivery_id": event.ID,
			},
		}, applyErr
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return core.InboundResult{}, err
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"provider_id": providerID,
			"delivery_id": event.ID,
			"event_kind":  string(event.Kind),
		},
	}, nil
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func (p *Processor) log(ctx context.Context) core.Logger {
	logger := p.Logger
	if logger == nil {
		logger = glog.Ensure(nil)
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}
