package query

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-connect/core"
)

type ConnectionStatusReader interface {
	Status(ctx context.Context, connectionID string) (core.ConnectionStatusProjection, error)
}

type ExpiringCredentialReader interface {
	ExpiringCredentials(ctx context.Context, before time.Time) ([]core.Credential, error)
}

type SubscriptionReader interface {
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (core.Subscription, error)
}

type TransactionReader interface {
	GetByExternalInvoiceID(ctx context.Context, externalInvoiceID string) (core.Transaction, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]core.Transaction, error)
}

type ConnectionReader interface {
	GetByUserProvider(ctx context.Context, userID string, providerID string) (core.Connection, error)
}

type ConnectionStatusQuery struct {
	reader ConnectionStatusReader
}

func NewConnectionStatusQuery(reader ConnectionStatusReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (core.ConnectionStatusProjection, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatusProjection{}, queryDependencyError("query: connection status reader is required")
	}
	return q.reader.Status(ctx, msg.ConnectionID)
}

type ExpiringCredentialsQuery struct {
	reader ExpiringCredentialReader
}

func NewExpiringCredentialsQuery(reader ExpiringCredentialReader) *ExpiringCredentialsQuery {
	return &ExpiringCredentialsQuery{reader: reader}
}

func (q *ExpiringCredentialsQuery) Query(ctx context.Context, msg ExpiringCredentialsMessage) ([]core.Credential, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: expiring credential reader is required")
	}
	return q.reader.ExpiringCredentials(ctx, msg.Before)
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

func (q *GetSubscriptionQuery) Query(ctx context.Context, msg GetSubscriptionMessage) (core.Subscription, error) {
	if q == nil || q.reader == nil {
		return core.Subscription{}, queryDependencyError("query: subscription reader is required")
	}
	return q.reader.GetByExternalID(ctx, msg.ExternalSubscriptionID)
}

type ListTransactionsQuery struct {
	reader TransactionReader
}

func NewListTransactionsQuery(reader TransactionReader) *ListTransactionsQuery {
	return &ListTransactionsQuery{reader: reader}
}

func (q *ListTransactionsQuery) Query(ctx context.Context, msg ListTransactionsMessage) ([]core.Transaction, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: transaction reader is required")
	}
	return q.reader.ListBySubscription(ctx, msg.SubscriptionID)
}

type GetTransactionByInvoiceQuery struct {
	reader TransactionReader
}

func NewGetTransactionByInvoiceQuery(reader TransactionReader) *GetTransactionByInvoiceQuery {
	return &GetTransactionByInvoiceQuery{reader: reader}
}

func (q *GetTransactionByInvoiceQuery) Query(ctx context.Context, msg GetTransactionByInvoiceMessage) (core.Transaction, error) {
	if q == nil || q.reader == nil {
		return core.Transaction{}, queryDependencyError("query: transaction reader is required")
	}
	return q.reader.GetByExternalInvoiceID(ctx, msg.ExternalInvoiceID)
}

type GetUserConnectionQuery struct {
	reader ConnectionReader
}

func NewGetUserConnectionQuery(reader ConnectionReader) *GetUserConnectionQuery {
	return &GetUserConnectionQuery{reader: reader}
}

func (q *GetUserConnectionQuery) Query(ctx context.Context, msg GetUserConnectionMessage) (core.Connection, error) {
	if q == nil || q.reader == nil {
		return core.Connection{}, queryDependencyError("query: connection reader is required")
	}
	return q.reader.GetByUserProvider(ctx, msg.UserID, msg.ProviderID)
}
