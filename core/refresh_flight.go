package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRefreshLockTTL = 30 * time.Second

// refreshOutcome is the shared result of one provider refresh round trip.
type refreshOutcome struct {
	credential ActiveCredential
	err        error
}

type refreshCall struct {
	done    chan struct{}
	outcome refreshOutcome
}

// refreshFlight collapses concurrent refresh attempts per connection:
// the first caller becomes the refresher, later callers block on the
// same in-flight round trip and receive its outcome. Providers that
// rotate refresh tokens invalidate the old token after one use, so a
// duplicate concurrent refresh hands a waiter a dead token.
type refreshFlight struct {
	mu    sync.Mutex
	calls map[string]*refreshCall
}

func newRefreshFlight() *refreshFlight {
	return &refreshFlight{calls: make(map[string]*refreshCall)}
}

// do runs fn for the flight leader and shares the outcome with every
// caller that joined while the refresh was in flight. leader reports
// whether this caller executed fn.
func (f *refreshFlight) do(ctx context.Context, connectionID string, fn func() refreshOutcome) (refreshOutcome, bool, error) {
	if f == nil {
		return refreshOutcome{}, false, fmt.Errorf("core: refresh flight group is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return refreshOutcome{}, false, fmt.Errorf("core: connection id is required")
	}

	f.mu.Lock()
	if inflight, ok := f.calls[connectionID]; ok {
		f.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.outcome, false, nil
		case <-ctx.Done():
			return refreshOutcome{}, false, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	f.calls[connectionID] = call
	f.mu.Unlock()

	call.outcome = fn()

	f.mu.Lock()
	delete(f.calls, connectionID)
	f.mu.Unlock()
	close(call.done)

	return call.outcome, true, nil
}

// MemoryConnectionLocker is a process-local ConnectionLocker. It does
// not persist: a crash mid-refresh releases implicitly, and the next
// request retries. A multi-instance deployment needs a locker backed by
// a conditional write with a short lease.
type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, connectionID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("core: connection id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[connectionID]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for connection %q", connectionID)
	}
	l.locks[connectionID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, connectionID: connectionID}, nil
}

type memoryLockHandle struct {
	locker       *MemoryConnectionLocker
	connectionID string
	once         sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.connectionID)
		h.locker.mu.Unlock()
	})
	return nil
}
