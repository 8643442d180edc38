package billingconnect

import (
	"fmt"

	billingcommand "github.com/goliatone/go-billing-connect/command"
	"github.com/goliatone/go-billing-connect/core"
	billingquery "github.com/goliatone/go-billing-connect/query"
)

type CommandQueryService interface {
	billingcommand.MutatingService
	billingquery.ConnectionStatusReader
	billingquery.ExpiringCredentialReader
}

type Commands struct {
	EstablishConnection *billingcommand.EstablishConnectionCommand
	Refresh             *billingcommand.RefreshCommand
	Pause               *billingcommand.PauseConnectionCommand
	Resume              *billingcommand.ResumeConnectionCommand
	Disconnect          *billingcommand.DisconnectCommand
}

type Queries struct {
	ConnectionStatus        *billingquery.ConnectionStatusQuery
	ExpiringCredentials     *billingquery.ExpiringCredentialsQuery
	GetSubscription         *billingquery.GetSubscriptionQuery
	ListTransactions        *billingquery.ListTransactionsQuery
	GetTransactionByInvoice *billingquery.GetTransactionByInvoiceQuery
	GetUserConnection       *billingquery.GetUserConnectionQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	connectionReader   billingquery.ConnectionReader
	subscriptionReader billingquery.SubscriptionReader
	transactionReader  billingquery.TransactionReader
}

func WithConnectionReader(reader billingquery.ConnectionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.connectionReader = reader
	}
}

func WithSubscriptionReader(reader billingquery.SubscriptionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.subscriptionReader = reader
	}
}

func WithTransactionReader(reader billingquery.TransactionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.transactionReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("billingconnect: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	if cfg.connectionReader == nil {
		cfg.connectionReader = resolveConnectionReader(service)
	}
	if cfg.subscriptionReader == nil {
		cfg.subscriptionReader = resolveSubscriptionReader(service)
	}
	if cfg.transactionReader == nil {
		cfg.transactionReader = resolveTransactionReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		EstablishConnection: billingcommand.NewEstablishConnectionCommand(service),
		Refresh:             billingcommand.NewRefreshCommand(service),
		Pause:               billingcommand.NewPauseConnectionCommand(service),
		Resume:              billingcommand.NewResumeConnectionCommand(service),
		Disconnect:          billingcommand.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		ConnectionStatus:        billingquery.NewConnectionStatusQuery(service),
		ExpiringCredentials:     billingquery.NewExpiringCredentialsQuery(service),
		GetSubscription:         billingquery.NewGetSubscriptionQuery(cfg.subscriptionReader),
		ListTransactions:        billingquery.NewListTransactionsQuery(cfg.transactionReader),
		GetTransactionByInvoice: billingquery.NewGetTransactionByInvoiceQuery(cfg.transactionReader),
		GetUserConnection:       billingquery.NewGetUserConnectionQuery(cfg.connectionReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveConnectionReader(service CommandQueryService) billingquery.ConnectionReader {
	if reader, ok := service.(billingquery.ConnectionReader); ok {
		return reader
	}
	if provider, ok := service.(interface{ ConnectionStore() core.ConnectionStore }); ok {
		if store := provider.ConnectionStore(); store != nil {
			return store
		}
	}
	return nil
}

func resolveSubscriptionReader(service CommandQueryService) billingquery.SubscriptionReader {
	if reader, ok := service.(billingquery.SubscriptionReader); ok {
		return reader
	}
	if provider, ok := service.(interface{ SubscriptionStore() core.SubscriptionStore }); ok {
		if store := provider.SubscriptionStore(); store != nil {
			return store
		}
	}
	return nil
}

func resolveTransactionReader(service CommandQueryService) billingquery.TransactionReader {
	if reader, ok := service.(billingquery.TransactionReader); ok {
		return reader
	}
	if provider, ok := service.(interface{ TransactionStore() core.TransactionStore }); ok {
		if store := provider.TransactionStore(); store != nil {
			return store
		}
	}
	return nil
}
