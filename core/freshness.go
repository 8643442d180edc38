package core

import (
	"strings"
	"time"
)

const (
	// DefaultRefreshLeadWindow is the safety margin before actual expiry
	// used to trigger proactive refresh. Providers can widen it up to
	// MaxRefreshLeadWindow through their adapter.
	DefaultRefreshLeadWindow = 5 * time.Minute
	MaxRefreshLeadWindow     = 10 * time.Minute
)

// TokenState captures the access/refresh lifecycle flags derived from a
// decrypted credential at a point in time.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	CanAutoRefresh  bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates expiry and refreshability for a credential.
func ResolveTokenState(now time.Time, credential ActiveCredential, leadWindow time.Duration) TokenState {
	now = normalizeNow(now)
	leadWindow = normalizeLeadWindow(leadWindow)

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(credential.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(credential.RefreshToken) != "",
		CanAutoRefresh:  credential.Refreshable && strings.TrimSpace(credential.RefreshToken) != "",
	}
	if credential.ExpiresAt == nil {
		return state
	}
	expiresAt := credential.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(leadWindow))
	return state
}

// ShouldRefresh reports whether a refresh must run before the token can
// back a provider call.
func ShouldRefresh(state TokenState) bool {
	if !state.CanAutoRefresh {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired || state.IsExpiringSoon
}

// ConnectionUsability is the derived status consumed by request-handling
// code before any outbound provider call.
type ConnectionUsability struct {
	Usable            bool
	NeedsRefresh      bool
	ReconnectRequired bool
}

// ResolveUsability combines connection status with token state. A
// non-active connection is never refreshed automatically: the caller
// must surface a reconnect-required condition instead.
func ResolveUsability(connection Connection, state TokenState) ConnectionUsability {
	if connection.Status != ConnectionStatusActive {
		return ConnectionUsability{ReconnectRequired: connection.Status == ConnectionStatusInactive}
	}
	return ConnectionUsability{
		Usable:       state.HasAccessToken && !state.IsExpired,
		NeedsRefresh: state.IsExpired || state.IsExpiringSoon,
	}
}

// ConnectionStatusProjection is the externally facing read model for a
// connection. It never carries token material.
type ConnectionStatusProjection struct {
	ConnectionID string
	ProviderID   string
	UserID       string
	Status       ConnectionStatus
	Usable       bool
	NeedsRefresh bool
	ExpiresAt    *time.Time
	LastError    LastError
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}

func normalizeLeadWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return DefaultRefreshLeadWindow
	}
	if window > MaxRefreshLeadWindow {
		return MaxRefreshLeadWindow
	}
	return window
}
