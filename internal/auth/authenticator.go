package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAuthTimeout bounds how long the flow waits for the user to finish
// authenticating in the browser.
const DefaultAuthTimeout = 5 * time.Minute

// DefaultScopes are the scopes requested during the browser login.
// offline_access asks the provider for a refresh token.
var DefaultScopes = []string{
	"openid", "profile", "email", "phone", "address", "offline_access",
}

// Config configures the browser-based authentication flow.
type Config struct {
	// OAuthHost is the base URL of the OAuth server, used for OpenID
	// Connect discovery.
	OAuthHost string

	// ClientID is the public OAuth client identifier.
	ClientID string

	// Scopes requested during authorization. Defaults to DefaultScopes.
	Scopes []string

	// AuthTimeout bounds the wait for the browser callback.
	// Defaults to DefaultAuthTimeout.
	AuthTimeout time.Duration

	// CallbackPort is the local port for the redirect listener.
	// Zero picks an ephemeral port.
	CallbackPort int

	// HTTPClient is used for discovery and token requests.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Authenticator runs the OAuth 2.0 authorization code flow with PKCE
// against the SingleStore identity provider, and keeps the resulting
// token set fresh.
type Authenticator struct {
	cfg    Config
	creds  *CredentialsStore
	logger *slog.Logger

	// openBrowser is swappable for tests.
	openBrowser func(url string) error
}

// NewAuthenticator creates an authenticator. creds may be nil, in which
// case tokens are not persisted.
func NewAuthenticator(cfg Config, creds *CredentialsStore, logger *slog.Logger) *Authenticator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		cfg:         cfg,
		creds:       creds,
		logger:      logger,
		openBrowser: OpenBrowser,
	}
}

// Login runs the full interactive flow: discovery, browser authorization,
// callback validation, and code exchange. On success the token set is
// persisted (when a credentials store is configured) and returned.
func (a *Authenticator) Login(ctx context.Context) (*TokenSet, error) {
	serverCfg, err := Discover(ctx, a.cfg.HTTPClient, a.cfg.OAuthHost)
	if err != nil {
		return nil, err
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	callbackServer := NewCallbackServer(a.cfg.CallbackPort)
	redirectURI, err := callbackServer.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer callbackServer.Stop()

	authURL := a.buildAuthorizationURL(serverCfg, pkce, state, redirectURI)

	a.logger.Info("opening browser for authentication",
		"authorization_endpoint", serverCfg.AuthorizationEndpoint,
	)
	if err := a.openBrowser(authURL); err != nil {
		a.logger.Warn("could not open browser automatically", "error", err.Error())
		fmt.Printf("Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
	}

	result, err := callbackServer.WaitForCallback(ctx, a.cfg.AuthTimeout)
	if err != nil {
		return nil, err
	}

	// A provider-reported denial always wins over a state mismatch: the
	// user must see the real reason, not a CSRF warning.
	if result.IsError() {
		return nil, &AuthorizationDeniedError{
			Code:        result.Error,
			Description: result.ErrorDescription,
		}
	}

	if subtle.ConstantTimeCompare([]byte(result.State), []byte(state)) != 1 {
		return nil, &StateMismatchError{}
	}

	tokens, err := a.exchangeCode(ctx, serverCfg, result.Code, pkce.CodeVerifier, redirectURI)
	if err != nil {
		return nil, err
	}

	if a.creds != nil {
		if err := a.creds.Save(tokens); err != nil {
			return nil, err
		}
	}

	a.logger.Info("authentication complete",
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", tokens.RefreshToken != "",
	)
	return tokens, nil
}

// AccessToken returns a valid access token, refreshing or failing as
// needed. Returns ErrNotAuthenticated when there are no usable credentials
// and an interactive login is required.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	if a.creds == nil {
		return "", ErrNotAuthenticated
	}

	tokens, err := a.creds.Load()
	if err != nil {
		return "", err
	}

	if tokens.Valid() {
		return tokens.AccessToken, nil
	}

	if tokens.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	refreshed, err := a.RefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		a.logger.Warn("token refresh failed", "error", err.Error())
		return "", ErrNotAuthenticated
	}

	if err := a.creds.Save(refreshed); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshToken exchanges a refresh token for a new token set.
func (a *Authenticator) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	serverCfg, err := Discover(ctx, a.cfg.HTTPClient, a.cfg.OAuthHost)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", a.cfg.ClientID)

	tokens, err := a.tokenRequest(ctx, serverCfg.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	// Some providers do not rotate the refresh token; keep the old one so
	// the next refresh still works.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

// buildAuthorizationURL assembles the authorization request URL with the
// PKCE challenge and state.
func (a *Authenticator) buildAuthorizationURL(cfg *ServerConfig, pkce *PKCEChallenge, state, redirectURI string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", a.cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(a.cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", pkce.CodeChallenge)
	params.Set("code_challenge_method", pkce.CodeChallengeMethod)

	sep := "?"
	if strings.Contains(cfg.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return cfg.AuthorizationEndpoint + sep + params.Encode()
}

// exchangeCode redeems the authorization code at the token endpoint,
// proving possession of the PKCE verifier.
func (a *Authenticator) exchangeCode(ctx context.Context, cfg *ServerConfig, code, verifier, redirectURI string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("code_verifier", verifier)

	return a.tokenRequest(ctx, cfg.TokenEndpoint, form)
}

// tokenResponse mirrors the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

func (a *Authenticator) tokenRequest(ctx context.Context, endpoint string, form url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenExchangeError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &InvalidTokenResponseError{Reason: "response is not valid JSON"}
	}
	if tr.AccessToken == "" {
		return nil, &InvalidTokenResponseError{Reason: "missing access_token"}
	}

	tokens := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		IDToken:      tr.IDToken,
		Scope:        tr.Scope,
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	if tr.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tokens, nil
}
