package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-billing-connect/core"
)

type stubLister struct {
	credentials []core.Credential
	err         error
	before      time.Time
}

func (s *stubLister) ExpiringCredentials(_ context.Context, before time.Time) ([]core.Credential, error) {
	s.before = before
	return s.credentials, s.err
}

type stubEnqueuer struct {
	messages []*core.JobExecutionMessage
	failFor  map[string]error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if s.failFor != nil {
		if connectionID, ok := msg.Parameters["connection_id"].(string); ok {
			if err := s.failFor[connectionID]; err != nil {
				return err
			}
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

type stubRefresher struct {
	refreshFn func(ctx context.Context, connectionID string) (core.ActiveCredential, error)
}

func (s stubRefresher) Refresh(ctx context.Context, connectionID string) (core.ActiveCredential, error) {
	return s.refreshFn(ctx, connectionID)
}

type stubDelivery struct {
	msg      *core.JobExecutionMessage
	acked    bool
	nackOpts *core.JobNackOptions
}

func (s *stubDelivery) Message() *core.JobExecutionMessage { return s.msg }

func (s *stubDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	s.nackOpts = &opts
	return nil
}

func timeAt(hour int) *time.Time {
	value := time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	return &value
}

func TestRefreshSweeper_EnqueuesOneJobPerConnection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &stubLister{
		credentials: []core.Credential{
			{ConnectionID: "conn_1", Version: 3, ExpiresAt: timeAt(12)},
			{ConnectionID: "conn_2", Version: 1, ExpiresAt: timeAt(12)},
			{ConnectionID: "conn_1", Version: 2, ExpiresAt: timeAt(13)},
		},
	}
	enqueuer := &stubEnqueuer{}

	sweeper := NewRefreshSweeper(lister, enqueuer,
		WithSweepLookahead(30*time.Minute),
		WithSweeperClock(func() time.Time { return now }),
	)
	enqueued, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if enqueued != 2 {
		t.Fatalf("expected 2 jobs enqueued, got %d", enqueued)
	}
	if !lister.before.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected scan cutoff %v", lister.before)
	}
	if len(enqueuer.messages) != 2 {
		t.Fatalf("expected 2 enqueued messages, got %d", len(enqueuer.messages))
	}
	first := enqueuer.messages[0]
	if first.JobID != JobIDRefresh {
		t.Fatalf("unexpected job id %q", first.JobID)
	}
	if first.Parameters["connection_id"] != "conn_1" {
		t.Fatalf("unexpected parameters: %#v", first.Parameters)
	}
	wantKey := "billing.credential.refresh::conn_1::v3"
	if first.IdempotencyKey != wantKey {
		t.Fatalf("expected idempotency key %q, got %q", wantKey, first.IdempotencyKey)
	}
}

func TestRefreshSweeper_ReportsPartialEnqueueFailure(t *testing.T) {
	lister := &stubLister{
		credentials: []core.Credential{
			{ConnectionID: "conn_1", Version: 1},
			{ConnectionID: "conn_2", Version: 1},
		},
	}
	enqueuer := &stubEnqueuer{failFor: map[string]error{"conn_1": fmt.Errorf("queue unavailable")}}

	sweeper := NewRefreshSweeper(lister, enqueuer)
	enqueued, err := sweeper.Sweep(context.Background())
	if err == nil {
		t.Fatalf("expected sweep error")
	}
	if enqueued != 1 {
		t.Fatalf("expected the healthy connection to be enqueued, got %d", enqueued)
	}
	if !core.IsRetryableStorage(err) {
		t.Fatalf("expected retryable sweep error, got %v", err)
	}
}

func TestRefreshWorker_AcksSuccessfulRefresh(t *testing.T) {
	refresher := stubRefresher{
		refreshFn: func(_ context.Context, connectionID string) (core.ActiveCredential, error) {
			if connectionID != "conn_1" {
				t.Fatalf("unexpected connection id %q", connectionID)
			}
			return core.ActiveCredential{ConnectionID: connectionID}, nil
		},
	}
	worker := NewRefreshWorker(refresher, nil)
	delivery := &stubDelivery{msg: &core.JobExecutionMessage{
		JobID:      JobIDRefresh,
		Parameters: map[string]any{"connection_id": "conn_1"},
	}}

	if err := worker.ProcessDelivery(context.Background(), delivery); err != nil {
		t.Fatalf("process delivery: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected delivery to be acked")
	}
}

func TestRefreshWorker_RequeuesTransientFailure(t *testing.T) {
	refresher := stubRefresher{
		refreshFn: func(_ context.Context, _ string) (core.ActiveCredential, error) {
			return core.ActiveCredential{}, core.NewRetryableStorage(fmt.Errorf("connection reset"))
		},
	}
	worker := NewRefreshWorker(refresher, nil, WithRetryDelay(30*time.Second))
	delivery := &stubDelivery{msg: &core.JobExecutionMessage{
		JobID:      JobIDRefresh,
		Parameters: map[string]any{"connection_id": "conn_1"},
	}}

	if err := worker.ProcessDelivery(context.Background(), delivery); err != nil {
		t.Fatalf("process delivery: %v", err)
	}
	if delivery.acked {
		t.Fatalf("expected delivery not to be acked")
	}
	if delivery.nackOpts == nil || !delivery.nackOpts.Requeue {
		t.Fatalf("expected requeue nack, got %#v", delivery.nackOpts)
	}
	if delivery.nackOpts.Delay != 30*time.Second {
		t.Fatalf("expected 30s retry delay, got %s", delivery.nackOpts.Delay)
	}
}

func TestRefreshWorker_DeadLettersTerminalFailures(t *testing.T) {
	t.Run("reauthorization required", func(t *testing.T) {
		refresher := stubRefresher{
			refreshFn: func(_ context.Context, _ string) (core.ActiveCredential, error) {
				return core.ActiveCredential{}, core.NewReauthorizationRequired("refresh token rejected")
			},
		}
		delivery := &stubDelivery{msg: &core.JobExecutionMessage{
			JobID:      JobIDRefresh,
			Parameters: map[string]any{"connection_id": "conn_1"},
		}}
		if err := NewRefreshWorker(refresher, nil).ProcessDelivery(context.Background(), delivery); err != nil {
			t.Fatalf("process delivery: %v", err)
		}
		if delivery.nackOpts == nil || !delivery.nackOpts.DeadLetter {
			t.Fatalf("expected dead letter nack, got %#v", delivery.nackOpts)
		}
	})

	t.Run("missing connection id", func(t *testing.T) {
		refresher := stubRefresher{
			refreshFn: func(_ context.Context, _ string) (core.ActiveCredential, error) {
				t.Fatalf("refresh must not run without a connection id")
				return core.ActiveCredential{}, nil
			},
		}
		delivery := &stubDelivery{msg: &core.JobExecutionMessage{JobID: JobIDRefresh}}
		if err := NewRefreshWorker(refresher, nil).ProcessDelivery(context.Background(), delivery); err != nil {
			t.Fatalf("process delivery: %v", err)
		}
		if delivery.nackOpts == nil || !delivery.nackOpts.DeadLetter {
			t.Fatalf("expected dead letter nack, got %#v", delivery.nackOpts)
		}
	})
}
