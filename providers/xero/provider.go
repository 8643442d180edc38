package xero

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	"github.com/goliatone/go-billing-connect/providers"
)

const (
	ProviderID = "xero"

	tokenURL  = "https://identity.xero.com/connect/token"
	revokeURL = "https://identity.xero.com/connect/revocation"
)

// Xero issues 30-minute access tokens and rotates refresh tokens on
// use.
const refreshLeadWindow = 10 * time.Minute

type Config struct {
	ClientID            string
	ClientSecret        string
	TokenRequestTimeout time.Duration
	HTTPClient          providers.HTTPDoer
}

func New(cfg Config) (core.Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers/xero: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("providers/xero: client secret is required")
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  ProviderID,
		TokenURL:            tokenURL,
		RevokeURL:           revokeURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		RefreshLeadWindow:   refreshLeadWindow,
		TokenTTL:            30 * time.Minute,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
	})
}
