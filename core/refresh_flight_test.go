package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshFlight_CollapsesConcurrentCallers(t *testing.T) {
	flight := newRefreshFlight()
	release := make(chan struct{})
	var executions atomic.Int64

	const callers = 8
	var wg sync.WaitGroup
	leaders := make([]bool, callers)
	outcomes := make([]refreshOutcome, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			started <- struct{}{}
			outcome, leader, err := flight.do(context.Background(), "conn_1", func() refreshOutcome {
				executions.Add(1)
				<-release
				return refreshOutcome{credential: ActiveCredential{AccessToken: "at_new"}}
			})
			if err != nil {
				t.Errorf("flight do: %v", err)
				return
			}
			leaders[slot] = leader
			outcomes[slot] = outcome
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Fatalf("expected one execution, got %d", got)
	}
	leaderCount := 0
	for i := 0; i < callers; i++ {
		if leaders[i] {
			leaderCount++
		}
		if outcomes[i].credential.AccessToken != "at_new" {
			t.Fatalf("caller %d missed the shared outcome: %#v", i, outcomes[i])
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected one leader, got %d", leaderCount)
	}
}

func TestRefreshFlight_IndependentConnectionsDoNotShare(t *testing.T) {
	flight := newRefreshFlight()
	var executions atomic.Int64

	for _, connectionID := range []string{"conn_1", "conn_2"} {
		outcome, leader, err := flight.do(context.Background(), connectionID, func() refreshOutcome {
			executions.Add(1)
			return refreshOutcome{credential: ActiveCredential{ConnectionID: connectionID}}
		})
		if err != nil {
			t.Fatalf("flight do: %v", err)
		}
		if !leader {
			t.Fatalf("sequential caller must lead")
		}
		if outcome.credential.ConnectionID != connectionID {
			t.Fatalf("unexpected outcome: %#v", outcome)
		}
	}
	if got := executions.Load(); got != 2 {
		t.Fatalf("expected independent executions, got %d", got)
	}
}

func TestRefreshFlight_WaiterHonorsContextCancellation(t *testing.T) {
	flight := newRefreshFlight()
	release := make(chan struct{})
	leaderRunning := make(chan struct{})

	go func() {
		_, _, _ = flight.do(context.Background(), "conn_1", func() refreshOutcome {
			close(leaderRunning)
			<-release
			return refreshOutcome{}
		})
	}()
	<-leaderRunning

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := flight.do(ctx, "conn_1", func() refreshOutcome {
		t.Fatalf("waiter must not execute")
		return refreshOutcome{}
	})
	if err == nil {
		t.Fatalf("expected context cancellation error")
	}
	close(release)
}

func TestMemoryConnectionLocker_ExclusiveUntilUnlockOrExpiry(t *testing.T) {
	locker := NewMemoryConnectionLocker()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	locker.nowFn = func() time.Time { return now }

	handle, err := locker.Acquire(context.Background(), "conn_1", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), "conn_1", 30*time.Second); err == nil {
		t.Fatalf("expected held lock to reject second acquisition")
	}
	if _, err := locker.Acquire(context.Background(), "conn_2", 30*time.Second); err != nil {
		t.Fatalf("unrelated connection must lock independently: %v", err)
	}

	if err := handle.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), "conn_1", 30*time.Second); err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}

	// Expired leases release implicitly.
	now = now.Add(time.Minute)
	if _, err := locker.Acquire(context.Background(), "conn_1", 30*time.Second); err != nil {
		t.Fatalf("acquire after lease expiry: %v", err)
	}
}
