package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the credential lifecycle engine. It owns connection state,
// encrypted credential versions, and the just-in-time refresh path that
// guarantees at most one provider refresh round trip per connection at
// a time inside this process.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	connectionLocker  ConnectionLocker
	registry          Registry
	connectionStore   ConnectionStore
	credentialStore   CredentialStore
	subscriptionStore SubscriptionStore
	transactionStore  TransactionStore
	credentialCodec   CredentialCodec
	flight            *refreshFlight
	nowFn             func() time.Time
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("billing-connect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing-connect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var storeProvider StoreProvider
		if factory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			storeProvider = built
		} else if direct, ok := builder.repositoryFactory.(StoreProvider); ok {
			storeProvider = direct
		}
		if storeProvider != nil {
			if builder.connectionStore == nil {
				builder.connectionStore = storeProvider.ConnectionStore()
			}
			if builder.credentialStore == nil {
				builder.credentialStore = storeProvider.CredentialStore()
			}
			if builder.subscriptionStore == nil {
				builder.subscriptionStore = storeProvider.SubscriptionStore()
			}
			if builder.transactionStore == nil {
				builder.transactionStore = storeProvider.TransactionStore()
			}
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		connectionLocker:  builder.connectionLocker,
		registry:          builder.registry,
		connectionStore:   builder.connectionStore,
		credentialStore:   builder.credentialStore,
		subscriptionStore: builder.subscriptionStore,
		transactionStore:  builder.transactionStore,
		credentialCodec:   builder.credentialCodec,
		flight:            newRefreshFlight(),
		nowFn:             builder.nowFn,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) ConnectionStore() ConnectionStore {
	if s == nil {
		return nil
	}
	return s.connectionStore
}

func (s *Service) SubscriptionStore() SubscriptionStore {
	if s == nil {
		return nil
	}
	return s.subscriptionStore
}

func (s *Service) TransactionStore() TransactionStore {
	if s == nil {
		return nil
	}
	return s.transactionStore
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

// EstablishConnectionInput carries the outcome of a completed provider
// authorization: the identity of the link plus the initial token pair.
type EstablishConnectionInput struct {
	ProviderID        string
	UserID            string
	ExternalAccountID string
	TokenType         string
	Pair              TokenPair
	Refreshable       bool
}

// EstablishConnection commits a freshly authorized token pair. An
// existing connection for the same user and provider is reactivated in
// place so connection ids stay stable across re-authorizations.
func (s *Service) EstablishConnection(ctx context.Context, in EstablishConnectionInput) (connection Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": in.ProviderID,
		"user_id":     in.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "establish_connection", err, fields)
	}()

	providerID := strings.TrimSpace(in.ProviderID)
	userID := strings.TrimSpace(in.UserID)
	if providerID == "" || userID == "" {
		err = s.mapError(fmt.Errorf("core: provider id and user id are required"))
		return Connection{}, err
	}
	if strings.TrimSpace(in.Pair.AccessToken) == "" {
		err = s.mapError(fmt.Errorf("core: access token is required"))
		return Connection{}, err
	}
	if _, err = s.resolveProvider(providerID); err != nil {
		return Connection{}, err
	}
	if s.connectionStore == nil || s.credentialStore == nil {
		err = s.mapError(fmt.Errorf("core: connection and credential stores are required"))
		return Connection{}, err
	}

	existing, lookupErr := s.connectionStore.GetByUserProvider(ctx, userID, providerID)
	switch {
	case lookupErr == nil:
		connection = existing
		if connection.Status != ConnectionStatusActive {
			if err = s.connectionStore.UpdateStatus(ctx, connection.ID, ConnectionStatusActive, LastError{}); err != nil {
				err = s.mapError(err)
				return Connection{}, err
			}
			connection.Status = ConnectionStatusActive
			connection.LastError = LastError{}
		}
	case IsNotFound(lookupErr):
		connection, err = s.connectionStore.Create(ctx, CreateConnectionInput{
			ProviderID:        providerID,
			UserID:            userID,
			ExternalAccountID: strings.TrimSpace(in.ExternalAccountID),
			Status:            ConnectionStatusActive,
		})
		if err != nil {
			err = s.mapError(err)
			return Connection{}, err
		}
	default:
		err = s.mapError(lookupErr)
		return Connection{}, err
	}
	fields["connection_id"] = connection.ID

	refreshable := in.Refreshable || strings.TrimSpace(in.Pair.RefreshToken) != ""
	credential := ActiveCredential{
		ConnectionID: connection.ID,
		TokenType:    strings.TrimSpace(firstNonEmpty(in.TokenType, in.Pair.TokenType, "bearer")),
		AccessToken:  in.Pair.AccessToken,
		RefreshToken: in.Pair.RefreshToken,
		ExpiresAt:    cloneTimePointer(in.Pair.ExpiresAt),
		Refreshable:  refreshable,
	}
	if err = s.commitCredential(ctx, connection.ID, credential); err != nil {
		return Connection{}, err
	}
	return connection, nil
}

// EnsureUsable returns a decrypted credential guaranteed to be valid for
// an outbound provider call, refreshing just in time when the token is
// expired or inside the provider's lead window. Concurrent callers for
// the same connection share a single refresh round trip.
func (s *Service) EnsureUsable(ctx context.Context, connectionID string) (credential ActiveCredential, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "ensure_usable", err, fields)
	}()

	connection, active, provider, err := s.loadRefreshContext(ctx, connectionID, fields)
	if err != nil {
		return ActiveCredential{}, err
	}

	state := ResolveTokenState(s.now(), active, s.leadWindow(provider))
	if state.HasAccessToken && !state.IsExpired && !state.IsExpiringSoon {
		s.recordCounter(ctx, MetricTokenFastPath, 1, map[string]string{"provider_id": connection.ProviderID})
		return active, nil
	}
	if !state.CanAutoRefresh {
		if state.HasAccessToken && !state.IsExpired {
			// Inside the lead window but the provider issued no refresh
			// token. The credential is still valid, use it as-is.
			return active, nil
		}
		s.demoteConnection(ctx, connection.ID, ErrorCodeRefreshFailed, "credential expired and cannot be refreshed")
		err = NewReauthorizationRequired(fmt.Sprintf("connection %s requires re-authorization", connection.ID))
		return ActiveCredential{}, err
	}

	return s.refreshThroughFlight(ctx, connection, provider, active, fields)
}

// Refresh forces a provider refresh regardless of remaining token
// lifetime. Used by manual reconnect flows and the expiry sweeper.
func (s *Service) Refresh(ctx context.Context, connectionID string) (credential ActiveCredential, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	connection, active, provider, err := s.loadRefreshContext(ctx, connectionID, fields)
	if err != nil {
		return ActiveCredential{}, err
	}

	state := ResolveTokenState(s.now(), active, s.leadWindow(provider))
	if !state.CanAutoRefresh {
		s.demoteConnection(ctx, connection.ID, ErrorCodeRefreshFailed, "credential is not refreshable")
		err = NewReauthorizationRequired(fmt.Sprintf("connection %s requires re-authorization", connection.ID))
		return ActiveCredential{}, err
	}

	return s.refreshThroughFlight(ctx, connection, provider, active, fields)
}

// loadRefreshContext resolves the connection, its decrypted active
// credential, and the provider adapter. Non-active connections fail
// fast: no provider traffic happens on their behalf.
func (s *Service) loadRefreshContext(ctx context.Context, connectionID string, fields map[string]any) (Connection, ActiveCredential, Provider, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return Connection{}, ActiveCredential{}, nil, s.mapError(fmt.Errorf("core: connection id is required"))
	}
	if s.connectionStore == nil || s.credentialStore == nil {
		return Connection{}, ActiveCredential{}, nil, s.mapError(fmt.Errorf("core: connection and credential stores are required"))
	}

	connection, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		return Connection{}, ActiveCredential{}, nil, s.mapError(err)
	}
	fields["provider_id"] = connection.ProviderID

	switch connection.Status {
	case ConnectionStatusActive:
	case ConnectionStatusPaused:
		return Connection{}, ActiveCredential{}, nil, newBillingError(
			fmt.Sprintf("connection %s is paused", connection.ID),
			goerrors.CategoryConflict,
			ErrorCodeConnectionPaused,
		)
	default:
		return Connection{}, ActiveCredential{}, nil, NewReauthorizationRequired(
			fmt.Sprintf("connection %s requires re-authorization", connection.ID),
		)
	}

	provider, err := s.resolveProvider(connection.ProviderID)
	if err != nil {
		return Connection{}, ActiveCredential{}, nil, err
	}

	stored, err := s.credentialStore.GetActiveByConnection(ctx, connection.ID)
	if err != nil {
		return Connection{}, ActiveCredential{}, nil, s.mapError(err)
	}
	active, err := s.openCredential(ctx, connection.ID, stored)
	if err != nil {
		s.demoteConnection(ctx, connection.ID, ErrorCodeDecryptionFailed, "stored credential could not be decrypted")
		return Connection{}, ActiveCredential{}, nil, err
	}
	return connection, active, provider, nil
}

func (s *Service) refreshThroughFlight(ctx context.Context, connection Connection, provider Provider, current ActiveCredential, fields map[string]any) (ActiveCredential, error) {
	outcome, leader, flightErr := s.flight.do(ctx, connection.ID, func() refreshOutcome {
		return s.refreshLeader(ctx, connection, provider, current)
	})
	if flightErr != nil {
		return ActiveCredential{}, s.mapError(flightErr)
	}
	fields["refresh_leader"] = leader
	if outcome.err != nil {
		return ActiveCredential{}, outcome.err
	}
	if leader {
		s.recordCounter(ctx, MetricTokenRefreshed, 1, map[string]string{"provider_id": connection.ProviderID})
	}
	return outcome.credential, nil
}

// refreshLeader performs the actual provider round trip. Exactly one
// caller per connection runs this at a time; everyone else receives the
// shared outcome through the flight group.
func (s *Service) refreshLeader(ctx context.Context, connection Connection, provider Provider, current ActiveCredential) refreshOutcome {
	unlock := func() {}
	if s.connectionLocker != nil {
		handle, lockErr := s.connectionLocker.Acquire(ctx, connection.ID, s.lockTTL())
		if lockErr != nil {
			return refreshOutcome{err: s.mapError(lockErr)}
		}
		unlock = func() {
			_ = handle.Unlock(ctx)
		}
	}
	defer unlock()

	pair, refreshErr := provider.Refresh(ctx, current)
	if refreshErr != nil {
		s.demoteConnection(ctx, connection.ID, ErrorCodeRefreshFailed, refreshErr.Error())
		return refreshOutcome{err: NewReauthorizationRequired(
			fmt.Sprintf("token refresh failed for connection %s", connection.ID),
		)}
	}

	refreshed := mergeRefreshedCredential(current, pair)
	refreshed.ConnectionID = connection.ID
	if commitErr := s.commitCredential(ctx, connection.ID, refreshed); commitErr != nil {
		return refreshOutcome{err: commitErr}
	}
	if updateErr := s.connectionStore.UpdateStatus(ctx, connection.ID, ConnectionStatusActive, LastError{}); updateErr != nil {
		return refreshOutcome{err: s.mapError(updateErr)}
	}
	return refreshOutcome{credential: refreshed}
}

// mergeRefreshedCredential folds a provider refresh response into the
// current credential. Providers that do not rotate refresh tokens omit
// the field, in which case the prior token stays valid.
func mergeRefreshedCredential(current ActiveCredential, pair TokenPair) ActiveCredential {
	refreshed := ActiveCredential{
		ConnectionID: current.ConnectionID,
		TokenType:    strings.TrimSpace(firstNonEmpty(pair.TokenType, current.TokenType, "bearer")),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    cloneTimePointer(pair.ExpiresAt),
		Refreshable:  true,
	}
	if strings.TrimSpace(refreshed.RefreshToken) == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	refreshed.Refreshable = strings.TrimSpace(refreshed.RefreshToken) != ""
	return refreshed
}

// commitCredential encrypts and persists a credential as a new version;
// the store revokes the prior active version in the same transaction.
func (s *Service) commitCredential(ctx context.Context, connectionID string, credential ActiveCredential) error {
	if s.secretProvider == nil {
		return s.mapError(fmt.Errorf("core: secret provider is required"))
	}
	payload, err := s.credentialCodec.Encode(credential)
	if err != nil {
		return s.mapError(err)
	}
	encrypted, err := s.secretProvider.Encrypt(ctx, payload)
	if err != nil {
		return s.mapError(err)
	}
	_, err = s.credentialStore.SaveNewVersion(ctx, SaveCredentialInput{
		ConnectionID:     connectionID,
		EncryptedPayload: encrypted,
		PayloadFormat:    s.credentialCodec.Format(),
		PayloadVersion:   s.credentialCodec.Version(),
		TokenType:        credential.TokenType,
		ExpiresAt:        cloneTimePointer(credential.ExpiresAt),
		Refreshable:      credential.Refreshable,
		Status:           CredentialStatusActive,
	})
	if err != nil {
		return s.mapError(err)
	}
	return nil
}

// openCredential decrypts and decodes a stored credential version. Any
// failure here is equivalent to an invalid credential.
func (s *Service) openCredential(ctx context.Context, connectionID string, stored Credential) (ActiveCredential, error) {
	if s.secretProvider == nil {
		return ActiveCredential{}, s.mapError(fmt.Errorf("core: secret provider is required"))
	}
	plaintext, err := s.secretProvider.Decrypt(ctx, stored.EncryptedPayload)
	if err != nil {
		return ActiveCredential{}, NewDecryptionFailed(
			fmt.Sprintf("credential decryption failed for connection %s", connectionID),
		)
	}
	active, err := s.credentialCodec.Decode(plaintext)
	if err != nil {
		return ActiveCredential{}, NewDecryptionFailed(
			fmt.Sprintf("credential payload decode failed for connection %s", connectionID),
		)
	}
	active.ConnectionID = connectionID
	if active.ExpiresAt == nil {
		active.ExpiresAt = cloneTimePointer(stored.ExpiresAt)
	}
	return active, nil
}

// demoteConnection drops a connection to inactive and records the
// failure. Demotion is best effort: the caller's error already carries
// the authoritative outcome.
func (s *Service) demoteConnection(ctx context.Context, connectionID string, code string, message string) {
	if s.connectionStore == nil {
		return
	}
	lastErr := LastError{
		Message: message,
		Code:    code,
		At:      s.now(),
	}
	if err := s.connectionStore.UpdateStatus(ctx, connectionID, ConnectionStatusInactive, lastErr); err != nil {
		s.logError(ctx, "connection demotion failed", map[string]any{
			"connection_id": connectionID,
			"error":         err.Error(),
		})
		return
	}
	s.recordCounter(ctx, MetricConnectionDemotions, 1, map[string]string{"reason": code})
}

// Pause suspends a connection. Paused connections reject refresh and
// outbound traffic but keep their stored credential.
func (s *Service) Pause(ctx context.Context, connectionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "pause_connection", err, fields)
	}()
	return s.transitionConnection(ctx, connectionID, ConnectionStatusPaused, LastError{})
}

// Resume reactivates a paused connection.
func (s *Service) Resume(ctx context.Context, connectionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "resume_connection", err, fields)
	}()
	return s.transitionConnection(ctx, connectionID, ConnectionStatusActive, LastError{})
}

func (s *Service) transitionConnection(ctx context.Context, connectionID string, status ConnectionStatus, lastErr LastError) error {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return s.mapError(fmt.Errorf("core: connection id is required"))
	}
	if s.connectionStore == nil {
		return s.mapError(fmt.Errorf("core: connection store is required"))
	}
	connection, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		return s.mapError(err)
	}
	if err := connection.TransitionTo(status, lastErr, s.now()); err != nil {
		return s.mapError(err)
	}
	if err := s.connectionStore.UpdateStatus(ctx, connectionID, status, lastErr); err != nil {
		return s.mapError(err)
	}
	return nil
}

// Disconnect revokes the provider grant best effort, revokes the stored
// credential, and removes the connection. Local teardown always wins:
// a provider revocation failure is logged, not surfaced.
func (s *Service) Disconnect(ctx context.Context, connectionID string, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		err = s.mapError(fmt.Errorf("core: connection id is required"))
		return err
	}
	if s.connectionStore == nil || s.credentialStore == nil {
		err = s.mapError(fmt.Errorf("core: connection and credential stores are required"))
		return err
	}

	connection, getErr := s.connectionStore.Get(ctx, connectionID)
	if getErr != nil {
		err = s.mapError(getErr)
		return err
	}
	fields["provider_id"] = connection.ProviderID

	if provider, resolveErr := s.resolveProvider(connection.ProviderID); resolveErr == nil {
		if stored, credErr := s.credentialStore.GetActiveByConnection(ctx, connectionID); credErr == nil {
			if active, openErr := s.openCredential(ctx, connectionID, stored); openErr == nil {
				if revokeErr := provider.Revoke(ctx, active); revokeErr != nil {
					s.logError(ctx, "provider revocation failed", map[string]any{
						"connection_id": connectionID,
						"provider_id":   connection.ProviderID,
						"error":         revokeErr.Error(),
					})
				}
			}
		}
	}

	if err = s.credentialStore.RevokeActive(ctx, connectionID, reason); err != nil && !IsNotFound(err) {
		err = s.mapError(err)
		return err
	}
	if err = s.connectionStore.Delete(ctx, connectionID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// Status builds the read model for a connection without touching token
// material: expiry metadata lives on the credential row in cleartext.
func (s *Service) Status(ctx context.Context, connectionID string) (projection ConnectionStatusProjection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": connectionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "connection_status", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		err = s.mapError(fmt.Errorf("core: connection id is required"))
		return ConnectionStatusProjection{}, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is required"))
		return ConnectionStatusProjection{}, err
	}

	connection, getErr := s.connectionStore.Get(ctx, connectionID)
	if getErr != nil {
		err = s.mapError(getErr)
		return ConnectionStatusProjection{}, err
	}
	fields["provider_id"] = connection.ProviderID

	state := TokenState{}
	if s.credentialStore != nil {
		stored, credErr := s.credentialStore.GetActiveByConnection(ctx, connectionID)
		switch {
		case credErr == nil:
			state = storedTokenState(s.now(), stored, s.leadWindowFor(connection.ProviderID))
		case IsNotFound(credErr):
		default:
			err = s.mapError(credErr)
			return ConnectionStatusProjection{}, err
		}
	}

	usability := ResolveUsability(connection, state)
	return ConnectionStatusProjection{
		ConnectionID: connection.ID,
		ProviderID:   connection.ProviderID,
		UserID:       connection.UserID,
		Status:       connection.Status,
		Usable:       usability.Usable,
		NeedsRefresh: usability.NeedsRefresh,
		ExpiresAt:    state.ExpiresAt,
		LastError:    connection.LastError,
	}, nil
}

// ExpiringCredentials lists active credential versions expiring before
// the cutoff. The sweeper job feeds these back through Refresh.
func (s *Service) ExpiringCredentials(ctx context.Context, before time.Time) ([]Credential, error) {
	if s == nil || s.credentialStore == nil {
		return nil, fmt.Errorf("core: credential store is required")
	}
	if before.IsZero() {
		before = s.now().Add(s.config.Refresh.LeadWindow)
	}
	expiring, err := s.credentialStore.ListExpiring(ctx, before.UTC())
	if err != nil {
		return nil, s.mapError(err)
	}
	return expiring, nil
}

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	if s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: provider registry is required"))
	}
	provider, err := s.registry.Resolve(providerID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return provider, nil
}

func (s *Service) leadWindow(provider Provider) time.Duration {
	if provider != nil {
		if window := provider.RefreshLeadWindow(); window > 0 {
			return normalizeLeadWindow(window)
		}
	}
	return normalizeLeadWindow(s.config.Refresh.LeadWindow)
}

func (s *Service) leadWindowFor(providerID string) time.Duration {
	if s.registry != nil {
		if provider, err := s.registry.Resolve(providerID); err == nil {
			return s.leadWindow(provider)
		}
	}
	return normalizeLeadWindow(s.config.Refresh.LeadWindow)
}

func (s *Service) lockTTL() time.Duration {
	if s.config.Refresh.LockTTL > 0 {
		return s.config.Refresh.LockTTL
	}
	return defaultRefreshLockTTL
}

// storedTokenState derives expiry flags from credential row metadata
// without decrypting the payload.
func storedTokenState(now time.Time, stored Credential, leadWindow time.Duration) TokenState {
	state := TokenState{
		HasAccessToken:  strings.TrimSpace(stored.ID) != "",
		HasRefreshToken: stored.Refreshable,
		CanAutoRefresh:  stored.Refreshable,
	}
	if stored.ExpiresAt == nil {
		return state
	}
	expiresAt := stored.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now.UTC()) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.UTC().Add(normalizeLeadWindow(leadWindow)))
	return state
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
