package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	// JobIDRefresh identifies queued proactive refresh work for a single
	// connection.
	JobIDRefresh = "billing.credential.refresh"

	// DefaultSweepLookahead is how far past the refresh lead window the
	// sweeper scans, so tokens are rotated before request traffic has to
	// pay for the refresh.
	DefaultSweepLookahead = 15 * time.Minute

	// DefaultRetryDelay spaces out retries of a failed refresh job.
	DefaultRetryDelay = time.Minute
)

// RefreshLister exposes the credential scan backing the sweeper.
// Satisfied by *core.Service.
type RefreshLister interface {
	ExpiringCredentials(ctx context.Context, before time.Time) ([]core.Credential, error)
}

// Refresher rotates a single connection. Satisfied by *core.Service.
type Refresher interface {
	Refresh(ctx context.Context, connectionID string) (core.ActiveCredential, error)
}

// RefreshSweeper scans for credentials approaching expiry and enqueues
// one refresh job per connection. Running it on a schedule keeps the
// just-in-time refresh path a fallback rather than the common case.
type RefreshSweeper struct {
	lister    RefreshLister
	enqueuer  core.JobEnqueuer
	logger    core.Logger
	lookahead time.Duration
	now       func() time.Time
}

type SweeperOption func(*RefreshSweeper)

func WithSweeperLogger(logger core.Logger) SweeperOption {
	return func(s *RefreshSweeper) {
		s.logger = logger
	}
}

func WithSweepLookahead(lookahead time.Duration) SweeperOption {
	return func(s *RefreshSweeper) {
		if lookahead > 0 {
			s.lookahead = lookahead
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *RefreshSweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRefreshSweeper(lister RefreshLister, enqueuer core.JobEnqueuer, opts ...SweeperOption) *RefreshSweeper {
	sweeper := &RefreshSweeper{
		lister:    lister,
		enqueuer:  enqueuer,
		lookahead: DefaultSweepLookahead,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sweeper)
		}
	}
	return sweeper
}

// Sweep enqueues refresh jobs for every connection whose active
// credential expires inside the lookahead window. It returns the number
// of jobs enqueued.
func (s *RefreshSweeper) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.lister == nil || s.enqueuer == nil {
		return 0, goerrors.New("jobs: sweeper requires lister and enqueuer", goerrors.CategoryInternal).
			WithTextCode(core.ErrorCodeInternal)
	}

	cutoff := s.now().Add(s.lookahead)
	credentials, err := s.lister.ExpiringCredentials(ctx, cutoff)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryExternal, "jobs: expiring credential scan failed").
			WithTextCode(core.ErrorCodeStorageRetryable)
	}

	enqueued := 0
	seen := map[string]bool{}
	var failures []error
	for _, credential := range credentials {
		connectionID := strings.TrimSpace(credential.ConnectionID)
		if connectionID == "" || seen[connectionID] {
			continue
		}
		seen[connectionID] = true

		msg := &core.JobExecutionMessage{
			JobID:          JobIDRefresh,
			Parameters:     map[string]any{"connection_id": connectionID},
			IdempotencyKey: refreshIdempotencyKey(connectionID, credential.Version),
			DedupPolicy:    "drop",
		}
		if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
			failures = append(failures, fmt.Errorf("enqueue refresh for %s: %w", connectionID, err))
			continue
		}
		enqueued++
	}

	if s.logger != nil {
		s.logger.Info("refresh sweep completed",
			"enqueued", enqueued,
			"scanned", len(credentials),
			"failed", len(failures),
		)
	}
	if len(failures) > 0 {
		return enqueued, goerrors.Wrap(errors.Join(failures...), goerrors.CategoryExternal, "jobs: refresh sweep partially failed").
			WithTextCode(core.ErrorCodeStorageRetryable)
	}
	return enqueued, nil
}

// Keyed by credential version so a sweep after rotation produces a new
// job while redundant sweeps of the same version deduplicate.
func refreshIdempotencyKey(connectionID string, version int) string {
	return fmt.Sprintf("%s::%s::v%d", JobIDRefresh, connectionID, version)
}

// RefreshWorker drains queued refresh jobs and applies them through the
// service refresh path, which already serializes per connection.
type RefreshWorker struct {
	refresher  Refresher
	dequeuer   core.JobDequeuer
	logger     core.Logger
	retryDelay time.Duration
}

type WorkerOption func(*RefreshWorker)

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *RefreshWorker) {
		w.logger = logger
	}
}

func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(w *RefreshWorker) {
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

func NewRefreshWorker(refresher Refresher, dequeuer core.JobDequeuer, opts ...WorkerOption) *RefreshWorker {
	worker := &RefreshWorker{
		refresher:  refresher,
		dequeuer:   dequeuer,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(worker)
		}
	}
	return worker
}

// Run consumes deliveries until the context is cancelled. Dequeue
// errors propagate so the caller controls backoff and shutdown.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w == nil || w.refresher == nil || w.dequeuer == nil {
		return goerrors.New("jobs: worker requires refresher and dequeuer", goerrors.CategoryInternal).
			WithTextCode(core.ErrorCodeInternal)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return goerrors.Wrap(err, goerrors.CategoryExternal, "jobs: dequeue failed").
				WithTextCode(core.ErrorCodeStorageRetryable)
		}
		if delivery == nil {
			continue
		}
		if err := w.ProcessDelivery(ctx, delivery); err != nil {
			return err
		}
	}
}

// ProcessDelivery handles one queued refresh. The returned error only
// reflects queue bookkeeping: refresh failures are settled through
// ack/nack so the queue drives redelivery.
func (w *RefreshWorker) ProcessDelivery(ctx context.Context, delivery core.JobDelivery) error {
	if w == nil || w.refresher == nil {
		return goerrors.New("jobs: worker requires refresher", goerrors.CategoryInternal).
			WithTextCode(core.ErrorCodeInternal)
	}
	if delivery == nil {
		return nil
	}

	msg := delivery.Message()
	connectionID := connectionIDFromMessage(msg)
	if connectionID == "" {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "missing connection id",
		})
	}

	_, err := w.refresher.Refresh(ctx, connectionID)
	if err == nil {
		return delivery.Ack(ctx)
	}

	if w.logger != nil {
		w.logger.Error("queued refresh failed",
			"connection_id", connectionID,
			"error", err.Error(),
		)
	}
	if isTerminalRefreshError(err) {
		// Redelivery cannot fix a connection that needs the user to
		// re-authorize or resume it.
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		})
	}
	return delivery.Nack(ctx, core.JobNackOptions{
		Requeue: true,
		Delay:   w.retryDelay,
		Reason:  err.Error(),
	})
}

func connectionIDFromMessage(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	value, _ := msg.Parameters["connection_id"].(string)
	return strings.TrimSpace(value)
}

func isTerminalRefreshError(err error) bool {
	if core.IsReauthorizationRequired(err) || core.IsNotFound(err) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(strings.TrimSpace(richErr.TextCode), core.ErrorCodeConnectionPaused)
	}
	return false
}
