package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// discoveryTimeout bounds the metadata fetch independently of the overall
// authentication timeout.
const discoveryTimeout = 10 * time.Second

// wellKnownPath is the OpenID Connect discovery path on the OAuth host.
const wellKnownPath = "/.well-known/openid-configuration"

// ServerConfig holds the OAuth server endpoints resolved via OpenID Connect
// discovery. Read-only after discovery.
type ServerConfig struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JwksURI                       string   `json:"jwks_uri"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// Discover fetches the OAuth server metadata from the host's well-known
// endpoint and validates that all required endpoints are present.
// Returns a *DiscoveryError on any failure; a failed discovery aborts the
// login attempt.
func Discover(ctx context.Context, httpClient *http.Client, oauthHost string) (*ServerConfig, error) {
	discoveryURL := strings.TrimSuffix(oauthHost, "/") + wellKnownPath

	reqCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, &DiscoveryError{URL: discoveryURL, Err: err}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &DiscoveryError{URL: discoveryURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{
			URL: discoveryURL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var cfg ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, &DiscoveryError{
			URL: discoveryURL,
			Err: fmt.Errorf("malformed metadata document: %w", err),
		}
	}

	// Reject documents missing any required endpoint at the boundary, so
	// nothing downstream has to handle a partial configuration.
	switch {
	case cfg.AuthorizationEndpoint == "":
		return nil, &DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("metadata missing authorization_endpoint")}
	case cfg.TokenEndpoint == "":
		return nil, &DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("metadata missing token_endpoint")}
	case cfg.JwksURI == "":
		return nil, &DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("metadata missing jwks_uri")}
	}

	return &cfg, nil
}
