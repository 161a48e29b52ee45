package oauth

import (
	"time"
)

// Default lifetimes for provider-issued artifacts.
const (
	// AuthorizationCodeTTL is how long an issued authorization code can be
	// redeemed before it expires.
	AuthorizationCodeTTL = 5 * time.Minute

	// DefaultTokenTTL is used for issued access tokens when the upstream
	// token carries no expiry of its own.
	DefaultTokenTTL = time.Hour
)

// Client is a dynamically registered OAuth client (RFC 7591).
type Client struct {
	// ClientID uniquely identifies the registration.
	ClientID string `json:"client_id"`

	// ClientSecret is empty for public clients.
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientName is the human-readable name from the registration request.
	ClientName string `json:"client_name,omitempty"`

	// RedirectURIs are the exact redirect URIs the client may use.
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes the client may use. Defaults to authorization_code.
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes the client may use. Defaults to code.
	ResponseTypes []string `json:"response_types,omitempty"`

	// TokenEndpointAuthMethod is typically "none" for public clients.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// Scope is the space-separated scope string from registration.
	Scope string `json:"scope,omitempty"`

	// CreatedAt is when the registration was stored.
	CreatedAt time.Time `json:"created_at"`
}

// AllowsRedirectURI reports whether uri exactly matches one of the client's
// registered redirect URIs. Matching is exact string comparison, no prefix
// or wildcard rules.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use code minted after the upstream identity
// provider calls back. It binds the client, its redirect URI, and its PKCE
// challenge to the upstream authorization result.
type AuthorizationCode struct {
	// Code is the opaque code value handed to the client.
	Code string

	// ClientID is the client the code was issued to.
	ClientID string

	// RedirectURI is the redirect URI used in the authorization request.
	RedirectURI string

	// RedirectURIExplicit records whether the client supplied the redirect
	// URI in the authorization request. When true, the token request must
	// repeat it exactly.
	RedirectURIExplicit bool

	// CodeChallenge is the client's PKCE challenge (S256).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string

	// Scopes granted for this authorization.
	Scopes []string

	// UpstreamCode is the authorization code received from the upstream
	// provider, redeemed at exchange time.
	UpstreamCode string

	// UpstreamVerifier is the PKCE verifier for the upstream leg.
	UpstreamVerifier string

	// UpstreamRedirectURI is the callback URI used for the upstream leg.
	UpstreamRedirectURI string

	// ExpiresAt is when the code stops being redeemable.
	ExpiresAt time.Time

	// CreatedAt is when the code was minted.
	CreatedAt time.Time
}

// Expired reports whether the code is past its redeem-by time.
func (c *AuthorizationCode) Expired() bool {
	return time.Now().After(c.ExpiresAt)
}

// AccessToken is a provider-issued bearer token for MCP requests.
type AccessToken struct {
	// Token is the opaque token value.
	Token string

	// ClientID is the client the token was issued to.
	ClientID string

	// Scopes granted to the token.
	Scopes []string

	// ExpiresAt is the absolute expiry.
	ExpiresAt time.Time

	// CreatedAt is when the token was issued.
	CreatedAt time.Time

	// Direct marks a bearer that is an upstream platform JWT verified via
	// JWKS rather than a provider-issued token. Direct tokens have no
	// mapping entry and are never persisted.
	Direct bool
}

// Expired reports whether the token is past its expiry. Tokens always carry
// an expiry; there is no non-expiring case.
func (t *AccessToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TokenMapping links a provider-issued token to the upstream SingleStore
// token it proxies for. API calls made on behalf of the client use the
// upstream token.
type TokenMapping struct {
	// Token is the provider-issued token value.
	Token string

	// UpstreamToken is the SingleStore access token.
	UpstreamToken string

	// UpstreamRefreshToken allows refreshing the upstream token, when the
	// provider issued one.
	UpstreamRefreshToken string

	// ExpiresAt mirrors the upstream token's expiry.
	ExpiresAt time.Time

	// CreatedAt is when the mapping was stored.
	CreatedAt time.Time
}

// ClientRegistrationRequest is the RFC 7591 registration request body.
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// TokenResponse is the JSON body returned from the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Metadata is the OAuth 2.0 Authorization Server Metadata document
// (RFC 8414) served from the well-known endpoint.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}
