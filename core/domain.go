package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionStatusTransition   = errors.New("core: invalid connection status transition")
	ErrInvalidCredentialStatusTransition   = errors.New("core: invalid credential status transition")
	ErrInvalidSubscriptionStatusTransition = errors.New("core: invalid subscription status transition")
	ErrInvalidTransactionStatusTransition  = errors.New("core: invalid transaction status transition")
)

type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusPaused   ConnectionStatus = "paused"
	ConnectionStatusInactive ConnectionStatus = "inactive"
)

// LastError is the most recent failure recorded against a connection.
// Cleared whenever the connection transitions back to active.
type LastError struct {
	Message string
	Code    string
	At      time.Time
}

func (e LastError) IsZero() bool {
	return strings.TrimSpace(e.Message) == "" && strings.TrimSpace(e.Code) == ""
}

// Connection is a user's authorized link to one external provider.
// Token material never lives on this type; it is stored as versioned
// encrypted credentials keyed by the connection id.
type Connection struct {
	ID                string
	ProviderID        string
	UserID            string
	ExternalAccountID string
	Status            ConnectionStatus
	LastError         LastError
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransitionTo moves the connection through the allowed status graph.
// Inactive is terminal for automatic flows: only a completed
// re-authorization moves a connection back to active.
func (c *Connection) TransitionTo(status ConnectionStatus, lastErr LastError, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if !lastErr.IsZero() {
			c.LastError = lastErr
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if !lastErr.IsZero() {
		c.LastError = lastErr
	}
	if status == ConnectionStatusActive {
		c.LastError = LastError{}
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusPaused:   {},
			ConnectionStatusInactive: {},
		},
		ConnectionStatusPaused: {
			ConnectionStatusActive:   {},
			ConnectionStatusInactive: {},
		},
		ConnectionStatusInactive: {
			ConnectionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRevoked CredentialStatus = "revoked"
)

// Credential is one stored version of a connection's encrypted token pair.
// Saving a new version revokes the prior active row in the same transaction.
type Credential struct {
	ID                string
	ConnectionID      string
	Version           int
	EncryptedPayload  []byte
	PayloadFormat     string
	PayloadVersion    int
	TokenType         string
	ExpiresAt         *time.Time
	Refreshable       bool
	Status            CredentialStatus
	EncryptionKeyID   string
	EncryptionVersion int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c *Credential) TransitionTo(status CredentialStatus, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		return nil
	}
	if c.Status != CredentialStatusActive || status != CredentialStatusRevoked {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	return nil
}

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
)

// Terminal reports whether the status ends the subscription's lifecycle.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled
}

// Subscription is the single local record for one payments-processor
// subscription. History is carried through status transitions, never
// through duplicate rows: ExternalSubscriptionID is globally unique.
type Subscription struct {
	ID                     string
	UserID                 string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	PriceID                string
	Status                 SubscriptionStatus
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	FailedPaymentAttempts  int
	// LastEventAt is the provider timestamp of the newest subscription
	// event applied to this record. Zero when nothing event-driven has
	// touched it yet.
	LastEventAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApplyDeletion encodes the grace-period rule for provider deletion
// events: entitlement outlives the provider's cancellation timestamp
// when the paid period has not elapsed yet. The local state reflects
// entitlement, not the provider's bookkeeping.
func (s *Subscription) ApplyDeletion(reportedPeriodEnd time.Time, now time.Time) {
	if s == nil {
		return
	}
	if reportedPeriodEnd.After(now) {
		s.Status = SubscriptionStatusActive
		s.CancelAtPeriodEnd = true
		if !reportedPeriodEnd.IsZero() {
			s.CurrentPeriodEnd = reportedPeriodEnd.UTC()
		}
		s.UpdatedAt = now
		return
	}
	s.Status = SubscriptionStatusCancelled
	s.UpdatedAt = now
}

type TransactionStatus string

const (
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

type TransactionKind string

const (
	TransactionKindPayment    TransactionKind = "payment"
	TransactionKindPlanChange TransactionKind = "plan_change"
)

// Transaction is an append-mostly ledger row. ExternalInvoiceID is the
// sole deduplication key for inbound payment events: at most one row
// ever exists per invoice id, and redelivery is a no-op. Rows are never
// deleted; a refund mutates status and refund fields in place.
type Transaction struct {
	ID                string
	SubscriptionID    string
	ExternalInvoiceID string
	ExternalChargeID  string
	Kind              TransactionKind
	Amount            int64
	Currency          string
	Status            TransactionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	RefundedAmount    int64
	RefundedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MarkRefunded transitions a ledger row to refunded. Only terminal
// payment rows can be refunded; refunding twice updates the amount.
func (t *Transaction) MarkRefunded(amount int64, now time.Time) error {
	if t == nil {
		return nil
	}
	switch t.Status {
	case TransactionStatusSucceeded, TransactionStatusFailed, TransactionStatusRefunded:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransactionStatusTransition, t.Status, TransactionStatusRefunded)
	}
	t.Status = TransactionStatusRefunded
	t.RefundedAmount = amount
	refundedAt := now.UTC()
	t.RefundedAt = &refundedAt
	t.UpdatedAt = now
	return nil
}
