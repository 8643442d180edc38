package quickbooks

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	"github.com/goliatone/go-billing-connect/providers"
)

const (
	ProviderID = "quickbooks"

	tokenURL  = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	revokeURL = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
)

// QuickBooks rotates the refresh token on every grant and access
// tokens live for one hour. Keep the lead window at the cap.
const refreshLeadWindow = 10 * time.Minute

type Config struct {
	ClientID            string
	ClientSecret        string
	TokenRequestTimeout time.Duration
	HTTPClient          providers.HTTPDoer
}

func New(cfg Config) (core.Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers/quickbooks: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("providers/quickbooks: client secret is required")
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  ProviderID,
		TokenURL:            tokenURL,
		RevokeURL:           revokeURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		RefreshLeadWindow:   refreshLeadWindow,
		TokenTTL:            time.Hour,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
	})
}
