// Package oidc discovers an OpenID Connect issuer and issues service tokens
// for calls to the remote demo endpoints.
package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/al-bashkir/demo-sessiond/internal/config"
)

// Provider holds the client credentials configuration derived from the
// discovered issuer.
type Provider struct {
	credentials *clientcredentials.Config
}

// NewProvider performs discovery via /.well-known/openid-configuration and
// prepares a client credentials grant against the issuer's token endpoint.
func NewProvider(ctx context.Context, cfg *config.RemoteConfig) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	endpoint := provider.Endpoint()
	if endpoint.TokenURL == "" {
		return nil, fmt.Errorf("issuer %s does not advertise a token endpoint", cfg.Issuer)
	}

	scopes := make([]string, len(cfg.Scopes))
	copy(scopes, cfg.Scopes)

	return &Provider{
		credentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
			Scopes:       scopes,
			AuthStyle:    endpoint.AuthStyle,
		},
	}, nil
}

// TokenURL returns the discovered token endpoint.
func (p *Provider) TokenURL() string {
	return p.credentials.TokenURL
}

// TokenSource returns a caching source of service access tokens.
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return p.credentials.TokenSource(ctx)
}

// HTTPClient returns a client that attaches a bearer token to every request.
// The base client, if non-nil, is used both for token requests and for the
// authorized requests themselves.
func (p *Provider) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return oauth2.NewClient(ctx, p.TokenSource(ctx))
}
