package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// TokenPair is the decrypted access/refresh pair returned by a provider
// refresh call. It only exists transiently inside a request's lifetime.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
}

// ActiveCredential is the decrypted view of a stored credential version.
type ActiveCredential struct {
	ConnectionID string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Refreshable  bool
}

// Provider is the capability adapter each external service supplies.
// Refresh exchanges the current refresh token for a new pair; several
// providers rotate refresh tokens on use, which is why the service
// serializes refreshes per connection.
type Provider interface {
	ID() string
	RefreshLeadWindow() time.Duration
	Refresh(ctx context.Context, current ActiveCredential) (TokenPair, error)
	Revoke(ctx context.Context, current ActiveCredential) error
}

type Registry interface {
	Register(provider Provider) error
	Resolve(providerID string) (Provider, error)
	List() []string
}

type CreateConnectionInput struct {
	ProviderID        string
	UserID            string
	ExternalAccountID string
	Status            ConnectionStatus
}

type SaveCredentialInput struct {
	ConnectionID      string
	EncryptedPayload  []byte
	PayloadFormat     string
	PayloadVersion    int
	TokenType         string
	ExpiresAt         *time.Time
	Refreshable       bool
	Status            CredentialStatus
	EncryptionKeyID   string
	EncryptionVersion int
}

type ConnectionStore interface {
	Create(ctx context.Context, in CreateConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	GetByUserProvider(ctx context.Context, userID string, providerID string) (Connection, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, lastErr LastError) error
	Delete(ctx context.Context, id string) error
}

type CredentialStore interface {
	SaveNewVersion(ctx context.Context, in SaveCredentialInput) (Credential, error)
	GetActiveByConnection(ctx context.Context, connectionID string) (Credential, error)
	RevokeActive(ctx context.Context, connectionID string, reason string) error
	ListExpiring(ctx context.Context, before time.Time) ([]Credential, error)
}

type UpsertSubscriptionInput struct {
	UserID                 string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	PriceID                string
	Status                 SubscriptionStatus
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	LastEventAt            time.Time
}

type SubscriptionStore interface {
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (Subscription, error)
	// FindLatestOpenByCustomer returns the most recently created
	// subscription in a non-terminal state for the external customer.
	FindLatestOpenByCustomer(ctx context.Context, externalCustomerID string) (Subscription, error)
	// CreateIfAbsent inserts a record keyed by external subscription id,
	// returning the existing record (created=false) on conflict.
	CreateIfAbsent(ctx context.Context, in UpsertSubscriptionInput) (Subscription, bool, error)
	Update(ctx context.Context, subscription Subscription) error
}

type InsertTransactionInput struct {
	SubscriptionID    string
	ExternalInvoiceID string
	ExternalChargeID  string
	Kind              TransactionKind
	Amount            int64
	Currency          string
	Status            TransactionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
}

type TransactionStore interface {
	// Insert is conditional on the unique external invoice id: a
	// redelivered event finds the existing row and reports created=false.
	Insert(ctx context.Context, in InsertTransactionInput) (Transaction, bool, error)
	GetByExternalInvoiceID(ctx context.Context, externalInvoiceID string) (Transaction, error)
	GetByExternalChargeID(ctx context.Context, externalChargeID string) (Transaction, error)
	Update(ctx context.Context, transaction Transaction) error
	ListBySubscription(ctx context.Context, subscriptionID string) ([]Transaction, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	CredentialStore() CredentialStore
	SubscriptionStore() SubscriptionStore
	TransactionStore() TransactionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// SecretProvider is the encrypt-at-rest boundary for token payloads.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// InboundRequest carries a raw webhook delivery: the body must be the
// unparsed bytes as received, signature verification depends on it.
type InboundRequest struct {
	ProviderID string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

// LockHandle releases a held refresh lock.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes refresh commits per connection. The
// in-process flight group already collapses concurrent callers inside
// one instance; a locker backed by a conditional write extends the
// guarantee across instances.
type ConnectionLocker interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// JobWorkerHook observes worker lifecycle transitions for queue-backed
// refresh and retry jobs.
type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
