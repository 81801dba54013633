package secrets

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config is the client-credentials configuration for a provider
// whose upstream credential is a short-lived bearer token rather than a
// static API key (some Azure/Vertex deployments).
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// OAuth2Source resolves a (provider, ref) pair by running the OAuth2
// client-credentials grant and returning the resulting access token as
// the secret's plaintext. The token's own expiry becomes the record's
// RotatedAt; the Manager caches the plaintext for its own TTL and does
// not read RotatedAt, so a token that expires within that TTL is still
// served from the cache.
type OAuth2Source struct {
	configs map[string]OAuth2Config // keyed by provider
}

// NewOAuth2Source constructs an OAuth2Source over the given per-provider
// client-credentials configs.
func NewOAuth2Source(configs map[string]OAuth2Config) *OAuth2Source {
	return &OAuth2Source{configs: configs}
}

// LoadSecret runs the client-credentials grant for provider and returns
// the access token. ref is unused: OAuth2 providers have one credential
// per provider, not per ref, but the Source interface is shared with
// static-secret sources that do key by ref.
func (s *OAuth2Source) LoadSecret(ctx context.Context, provider, ref string) (Record, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return Record{}, fmt.Errorf("secrets: no oauth2 config for provider %q", provider)
	}

	ccConfig := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	token, err := ccConfig.Token(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("secrets: oauth2 token fetch for %q: %w", provider, err)
	}

	return Record{
		Plaintext: token.AccessToken,
		RotatedAt: token.Expiry,
	}, nil
}
