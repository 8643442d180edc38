package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v81"

	"github.com/goliatone/go-billing-connect/core"
)

const ProviderID = "stripe"

// Provider binds the payments processor through a restricted API key.
// API keys carry no expiry and no refresh grant: a failed key means the
// operator rotates it and re-establishes the connection, so Refresh
// always reports reauthorization.
type Provider struct {
	apiKey string
}

func NewProvider(apiKey string) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("providers/stripe: api key is required")
	}
	stripeapi.Key = apiKey
	return &Provider{apiKey: apiKey}, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

func (*Provider) RefreshLeadWindow() time.Duration {
	return 0
}

func (p *Provider) Refresh(context.Context, core.ActiveCredential) (core.TokenPair, error) {
	return core.TokenPair{}, fmt.Errorf("providers/stripe: api key credentials are not refreshable")
}

// Revoke is a local no-op: restricted keys are rotated from the
// dashboard, there is no revocation endpoint to call.
func (*Provider) Revoke(context.Context, core.ActiveCredential) error {
	return nil
}

var _ core.Provider = (*Provider)(nil)
