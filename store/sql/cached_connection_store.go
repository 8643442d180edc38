package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-billing-connect/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const connectionCacheKeyPrefix = "billing-connect::connection::v1"

// CachedConnectionStore fronts connection reads with a cache. Status
// projections hit Get far more often than anything writes, and every
// write path invalidates both the id key and the user/provider key.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic key contract for
// connection reads: billing-connect::connection::v1::<segment>... with
// each segment URL-path escaped.
func ConnectionCacheKey(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, connectionCacheKeyPrefix)
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.Join(escaped, "::")
}

func (s *CachedConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, created); err != nil {
		return core.Connection{}, err
	}
	return created, nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, ConnectionCacheKey("id", id), func(ctx context.Context) (core.Connection, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedConnectionStore) GetByUserProvider(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	key := ConnectionCacheKey("user", userID, providerID)
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.Connection, error) {
		return s.base.GetByUserProvider(ctx, userID, providerID)
	})
}

func (s *CachedConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, lastErr core.LastError) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	connection, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.UpdateStatus(ctx, id, status, lastErr); err != nil {
		return err
	}
	return s.invalidate(ctx, connection)
}

func (s *CachedConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	connection, err := s.base.Get(ctx, id)
	if err != nil && !core.IsNotFound(err) {
		return err
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	if connection.ID == "" {
		return s.cache.Delete(ctx, ConnectionCacheKey("id", id))
	}
	return s.invalidate(ctx, connection)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, connection core.Connection) error {
	if err := s.cache.Delete(ctx, ConnectionCacheKey("id", connection.ID)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, ConnectionCacheKey("user", connection.UserID, connection.ProviderID))
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
