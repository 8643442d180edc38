package query

import (
	"github.com/goliatone/go-billing-connect/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[ConnectionStatusMessage, core.ConnectionStatusProjection] = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[ExpiringCredentialsMessage, []core.Credential]            = (*ExpiringCredentialsQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription]                = (*GetSubscriptionQuery)(nil)
	_ gocmd.Querier[ListTransactionsMessage, []core.Transaction]              = (*ListTransactionsQuery)(nil)
	_ gocmd.Querier[GetTransactionByInvoiceMessage, core.Transaction]         = (*GetTransactionByInvoiceQuery)(nil)
	_ gocmd.Querier[GetUserConnectionMessage, core.Connection]                = (*GetUserConnectionQuery)(nil)
)
