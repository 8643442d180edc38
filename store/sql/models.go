package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:billing_connections,alias:bc"`

	ID                string     `bun:"id,pk"`
	ProviderID        string     `bun:"provider_id,notnull"`
	UserID            string     `bun:"user_id,notnull"`
	ExternalAccountID string     `bun:"external_account_id,notnull"`
	Status            string     `bun:"status,notnull"`
	LastErrorMessage  string     `bun:"last_error_message"`
	LastErrorCode     string     `bun:"last_error_code"`
	LastErrorAt       *time.Time `bun:"last_error_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt         *time.Time `bun:"deleted_at,soft_delete"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:billing_credentials,alias:bcr"`

	ID                string     `bun:"id,pk"`
	ConnectionID      string     `bun:"connection_id,notnull"`
	Version           int        `bun:"version,notnull"`
	EncryptedPayload  []byte     `bun:"encrypted_payload,notnull"`
	PayloadFormat     string     `bun:"payload_format,notnull"`
	PayloadVersion    int        `bun:"payload_version,notnull"`
	TokenType         string     `bun:"token_type,notnull"`
	ExpiresAt         *time.Time `bun:"expires_at,nullzero"`
	Refreshable       bool       `bun:"refreshable,notnull"`
	Status            string     `bun:"status,notnull"`
	EncryptionKeyID   string     `bun:"encryption_key_id,notnull"`
	EncryptionVersion int        `bun:"encryption_version,notnull"`
	RevocationReason  string     `bun:"revocation_reason,notnull"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:billing_subscriptions,alias:bs"`

	ID                     string     `bun:"id,pk"`
	UserID                 string     `bun:"user_id,notnull"`
	ExternalSubscriptionID string     `bun:"external_subscription_id,notnull"`
	ExternalCustomerID     string     `bun:"external_customer_id,notnull"`
	PriceID                string     `bun:"price_id,notnull"`
	Status                 string     `bun:"status,notnull"`
	CurrentPeriodStart     time.Time  `bun:"current_period_start,nullzero"`
	CurrentPeriodEnd       time.Time  `bun:"current_period_end,nullzero"`
	TrialEnd               *time.Time `bun:"trial_end,nullzero"`
	CancelAtPeriodEnd      bool       `bun:"cancel_at_period_end,notnull"`
	FailedPaymentAttempts  int        `bun:"failed_payment_attempts,notnull"`
	LastEventAt            *time.Time `bun:"last_event_at,nullzero"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:billing_transactions,alias:bt"`

	ID                string     `bun:"id,pk"`
	SubscriptionID    string     `bun:"subscription_id,notnull"`
	ExternalInvoiceID string     `bun:"external_invoice_id,notnull"`
	ExternalChargeID  string     `bun:"external_charge_id"`
	Kind              string     `bun:"kind,notnull"`
	Amount            int64      `bun:"amount,notnull"`
	Currency          string     `bun:"currency,notnull"`
	Status            string     `bun:"status,notnull"`
	PeriodStart       time.Time  `bun:"period_start,nullzero"`
	PeriodEnd         time.Time  `bun:"period_end,nullzero"`
	RefundedAmount    int64      `bun:"refunded_amount,notnull"`
	RefundedAt        *time.Time `bun:"refunded_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:billing_webhook_deliveries,alias:bwd"`

	ID             string     `bun:"id,pk"`
	ClaimID        string     `bun:"claim_id,notnull"`
	ProviderID     string     `bun:"provider_id,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	LastError      string     `bun:"last_error"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	Payload        []byte     `bun:"payload"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
