package billingconnect

import "github.com/goliatone/go-billing-connect/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Provider = core.Provider
type Registry = core.Registry
type ConnectionLocker = core.ConnectionLocker
type SecretProvider = core.SecretProvider
type CredentialCodec = core.CredentialCodec
type ConnectionStore = core.ConnectionStore
type CredentialStore = core.CredentialStore
type SubscriptionStore = core.SubscriptionStore
type TransactionStore = core.TransactionStore

type Connection = core.Connection
type Credential = core.Credential
type ActiveCredential = core.ActiveCredential
type Subscription = core.Subscription
type Transaction = core.Transaction
type TokenPair = core.TokenPair

type EstablishConnectionInput = core.EstablishConnectionInput
type ConnectionStatusProjection = core.ConnectionStatusProjection

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithSecretProvider    = core.WithSecretProvider
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithConnectionLocker  = core.WithConnectionLocker
	WithRegistry          = core.WithRegistry
	WithConnectionStore   = core.WithConnectionStore
	WithCredentialStore   = core.WithCredentialStore
	WithSubscriptionStore = core.WithSubscriptionStore
	WithTransactionStore  = core.WithTransactionStore
	WithCredentialCodec   = core.WithCredentialCodec
	WithNowFunc           = core.WithNowFunc
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
