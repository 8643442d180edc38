package query

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeConnectionStatus    = "billing.query.connection.status"
	TypeExpiringCredentials = "billing.query.credential.expiring"
	TypeGetSubscription     = "billing.query.subscription.get"
	TypeListTransactions    = "billing.query.transaction.list"
	TypeGetTransactionByID  = "billing.query.transaction.get_by_invoice"
	TypeGetUserConnection   = "billing.query.connection.get_by_user"
)

type ConnectionStatusMessage struct {
	ConnectionID string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return fmt.Errorf("query: connection id is required")
	}
	return nil
}

type ExpiringCredentialsMessage struct {
	Before time.Time
}

func (ExpiringCredentialsMessage) Type() string { return TypeExpiringCredentials }

func (m ExpiringCredentialsMessage) Validate() error {
	if m.Before.IsZero() {
		return fmt.Errorf("query: cutoff time is required")
	}
	return nil
}

type GetSubscriptionMessage struct {
	ExternalSubscriptionID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.ExternalSubscriptionID) == "" {
		return fmt.Errorf("query: external subscription id is required")
	}
	return nil
}

type ListTransactionsMessage struct {
	SubscriptionID string
}

func (ListTransactionsMessage) Type() string { return TypeListTransactions }

func (m ListTransactionsMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return fmt.Errorf("query: subscription id is required")
	}
	return nil
}

type GetTransactionByInvoiceMessage struct {
	ExternalInvoiceID string
}

func (GetTransactionByInvoiceMessage) Type() string { return TypeGetTransactionByID }

func (m GetTransactionByInvoiceMessage) Validate() error {
	if strings.TrimSpace(m.ExternalInvoiceID) == "" {
		return fmt.Errorf("query: external invoice id is required")
	}
	return nil
}

type GetUserConnectionMessage struct {
	UserID     string
	ProviderID string
}

func (GetUserConnectionMessage) Type() string { return TypeGetUserConnection }

func (m GetUserConnectionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("query: user id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return fmt.Errorf("query: provider id is required")
	}
	return nil
}
