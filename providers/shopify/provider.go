package shopify

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	"github.com/goliatone/go-billing-connect/providers"
)

const (
	ProviderID = "shopify"

	defaultTokenPath    = "/admin/oauth/access_token"
	defaultDomainSuffix = ".myshopify.com"
)

type Config struct {
	ClientID            string
	ClientSecret        string
	ShopDomain          string
	TokenURL            string
	TokenRequestTimeout time.Duration
	HTTPClient          providers.HTTPDoer
}

// New builds the Shopify adapter. Online-mode access tokens expire
// daily and refresh through the standard grant against the shop's
// token endpoint; offline tokens never hit the refresh path because
// they carry no expiry.
func New(cfg Config) (core.Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers/shopify: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("providers/shopify: client secret is required")
	}
	tokenURL, err := resolveTokenURL(cfg)
	if err != nil {
		return nil, err
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  ProviderID,
		TokenURL:            tokenURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		ClientSecretInBody:  true,
		TokenTTL:            24 * time.Hour,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
	})
}

func resolveTokenURL(cfg Config) (string, error) {
	if explicit := strings.TrimSpace(cfg.TokenURL); explicit != "" {
		return explicit, nil
	}
	domain := normalizeShopDomain(cfg.ShopDomain)
	if domain == "" {
		return "", fmt.Errorf("providers/shopify: shop domain or token url is required")
	}
	endpoint := url.URL{
		Scheme: "https",
		Host:   domain,
		Path:   defaultTokenPath,
	}
	return endpoint.String(), nil
}

func normalizeShopDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, ".") {
		domain += defaultDomainSuffix
	}
	return domain
}
