package sqlstore

import "github.com/goliatone/go-billing-connect/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.CredentialStore        = (*CredentialStore)(nil)
	_ core.SubscriptionStore      = (*SubscriptionStore)(nil)
	_ core.TransactionStore       = (*TransactionStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
