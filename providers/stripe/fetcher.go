package stripe

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/subscription"

	"github.com/goliatone/go-billing-connect/billing"
)

// SubscriptionFetcher pulls authoritative subscription state from the
// Stripe API. The reconciler uses it as the last resolution tier when a
// webhook references a subscription the local store has never seen.
type SubscriptionFetcher struct{}

func NewSubscriptionFetcher(apiKey string) (*SubscriptionFetcher, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("providers/stripe: api key is required")
	}
	stripeapi.Key = apiKey
	return &SubscriptionFetcher{}, nil
}

func (f *SubscriptionFetcher) FetchSubscription(_ context.Context, externalSubscriptionID string) (billing.SubscriptionState, error) {
	externalSubscriptionID = strings.TrimSpace(externalSubscriptionID)
	if externalSubscriptionID == "" {
		return billing.SubscriptionState{}, fmt.Errorf("providers/stripe: subscription id is required")
	}
	remote, err := subscription.Get(externalSubscriptionID, nil)
	if err != nil {
		return billing.SubscriptionState{}, fmt.Errorf("providers/stripe: fetch subscription %s: %w", externalSubscriptionID, err)
	}
	return subscriptionState(remote), nil
}

var _ billing.RemoteSubscriptionFetcher = (*SubscriptionFetcher)(nil)
