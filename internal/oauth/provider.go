package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"s2mcp/internal/auth"
)

// UpstreamConfig describes the SingleStore identity provider the proxy
// authenticates against on behalf of its clients.
type UpstreamConfig struct {
	// OAuthHost is the base URL of the upstream OAuth server.
	OAuthHost string

	// ClientID is the proxy's own client registration with the upstream
	// provider.
	ClientID string

	// CallbackURL is the proxy's upstream redirect URI, typically
	// issuer + "/oauth/callback".
	CallbackURL string

	// Scopes requested from the upstream provider.
	Scopes []string

	// HTTPClient is used for discovery and the upstream token exchange.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Provider implements the OAuth authorization server the MCP endpoint
// exposes to remote clients. It proxies the actual authentication to the
// upstream SingleStore identity provider: clients register and authorize
// against the provider, the provider runs the upstream flow, and every
// issued token is mapped to the upstream token it stands in for.
type Provider struct {
	store    Store
	flows    *FlowStore
	upstream UpstreamConfig
	logger   *slog.Logger

	metaGroup singleflight.Group
	mu        sync.RWMutex
	serverCfg *auth.ServerConfig
	verifier  *Verifier
}

// NewProvider creates a provider backed by the given store.
func NewProvider(store Store, upstream UpstreamConfig, logger *slog.Logger) *Provider {
	if upstream.HTTPClient == nil {
		upstream.HTTPClient = http.DefaultClient
	}
	if len(upstream.Scopes) == 0 {
		upstream.Scopes = auth.DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		store:    store,
		flows:    NewFlowStore(),
		upstream: upstream,
		logger:   logger,
	}
}

// Close stops the flow store and the backing store.
func (p *Provider) Close() error {
	p.flows.Stop()
	return p.store.Close()
}

// RegisterClient handles a dynamic client registration request (RFC 7591).
// Credentials are generated server-side; registrations never expire.
func (p *Provider) RegisterClient(ctx context.Context, req *ClientRegistrationRequest) (*Client, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, invalidRequest("redirect_uris is required")
	}
	for _, uri := range req.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() {
			return nil, invalidRequest(fmt.Sprintf("invalid redirect_uri: %s", uri))
		}
	}

	client := &Client{
		ClientID:                uuid.NewString(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
		CreatedAt:               time.Now(),
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"authorization_code"}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{"code"}
	}
	if client.TokenEndpointAuthMethod == "" {
		client.TokenEndpointAuthMethod = "none"
	}

	if err := p.store.SaveClient(ctx, client); err != nil {
		p.logger.Error("failed to save client registration", "error", err.Error())
		return nil, serverError("failed to save client registration")
	}

	p.logger.Info("registered oauth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uris", len(client.RedirectURIs),
	)
	return client, nil
}

// AuthorizeRequest carries the parameters of a client's authorization
// request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
}

// Authorize validates the request and returns the upstream authorization
// URL to redirect the user's browser to. Validation failures before the
// redirect URI is known are returned as errors; the handler must not
// redirect them to an unverified URI.
func (p *Provider) Authorize(ctx context.Context, req *AuthorizeRequest) (string, error) {
	client, err := p.store.GetClient(ctx, req.ClientID)
	if err == ErrNotFound {
		return "", invalidClient("unknown client_id")
	}
	if err != nil {
		p.logger.Error("failed to load client", "client_id", req.ClientID, "error", err.Error())
		return "", serverError("failed to load client")
	}

	redirectURI := req.RedirectURI
	explicit := redirectURI != ""
	if explicit {
		if !client.AllowsRedirectURI(redirectURI) {
			return "", invalidRequest("redirect_uri is not registered for this client")
		}
	} else {
		if len(client.RedirectURIs) != 1 {
			return "", invalidRequest("redirect_uri is required when multiple URIs are registered")
		}
		redirectURI = client.RedirectURIs[0]
	}

	if req.ResponseType != "code" {
		return "", invalidRequest("only response_type=code is supported")
	}
	if req.CodeChallenge == "" {
		return "", invalidRequest("code_challenge is required")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != "S256" {
		return "", invalidRequest("only code_challenge_method=S256 is supported")
	}

	serverCfg, err := p.upstreamConfig(ctx)
	if err != nil {
		p.logger.Error("upstream discovery failed", "error", err.Error())
		return "", serverError("upstream identity provider unavailable")
	}

	upstreamState, err := generateOpaque()
	if err != nil {
		return "", serverError("failed to generate state")
	}
	pkce, err := auth.GeneratePKCE()
	if err != nil {
		return "", serverError("failed to generate PKCE challenge")
	}

	p.flows.Put(&PendingFlow{
		UpstreamState:       upstreamState,
		ClientID:            client.ClientID,
		ClientState:         req.State,
		ClientRedirectURI:   redirectURI,
		RedirectURIExplicit: explicit,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: "S256",
		Scopes:              splitScope(req.Scope),
		UpstreamVerifier:    pkce.CodeVerifier,
		UpstreamRedirectURI: p.upstream.CallbackURL,
		CreatedAt:           time.Now(),
	})

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", p.upstream.ClientID)
	params.Set("redirect_uri", p.upstream.CallbackURL)
	params.Set("scope", strings.Join(p.upstream.Scopes, " "))
	params.Set("state", upstreamState)
	params.Set("code_challenge", pkce.CodeChallenge)
	params.Set("code_challenge_method", pkce.CodeChallengeMethod)

	sep := "?"
	if strings.Contains(serverCfg.AuthorizationEndpoint, "?") {
		sep = "&"
	}

	p.logger.Info("authorization started",
		"client_id", client.ClientID,
		"redirect_uri", redirectURI,
	)
	return serverCfg.AuthorizationEndpoint + sep + params.Encode(), nil
}

// HandleUpstreamCallback processes the redirect back from the upstream
// provider. On success it mints a single-use authorization code bound to
// the original client request and returns the URL to send the browser to.
func (p *Provider) HandleUpstreamCallback(ctx context.Context, upstreamCode, upstreamState string) (string, error) {
	flow := p.flows.Consume(upstreamState)
	if flow == nil {
		return "", invalidRequest("unknown or expired authorization flow")
	}
	if upstreamCode == "" {
		return "", invalidRequest("missing authorization code")
	}

	code, err := generateOpaque()
	if err != nil {
		return "", serverError("failed to generate authorization code")
	}

	now := time.Now()
	record := &AuthorizationCode{
		Code:                code,
		ClientID:            flow.ClientID,
		RedirectURI:         flow.ClientRedirectURI,
		RedirectURIExplicit: flow.RedirectURIExplicit,
		CodeChallenge:       flow.CodeChallenge,
		CodeChallengeMethod: flow.CodeChallengeMethod,
		Scopes:              flow.Scopes,
		UpstreamCode:        upstreamCode,
		UpstreamVerifier:    flow.UpstreamVerifier,
		UpstreamRedirectURI: flow.UpstreamRedirectURI,
		ExpiresAt:           now.Add(AuthorizationCodeTTL),
		CreatedAt:           now,
	}
	if err := p.store.SaveAuthorizationCode(ctx, record); err != nil {
		p.logger.Error("failed to save authorization code", "error", err.Error())
		return "", serverError("failed to save authorization code")
	}

	redirect, err := url.Parse(flow.ClientRedirectURI)
	if err != nil {
		return "", serverError("stored redirect URI is invalid")
	}
	q := redirect.Query()
	q.Set("code", code)
	if flow.ClientState != "" {
		q.Set("state", flow.ClientState)
	}
	redirect.RawQuery = q.Encode()

	p.logger.Info("authorization code issued",
		"client_id", flow.ClientID,
		"expires_at", record.ExpiresAt.Format(time.RFC3339),
	)
	return redirect.String(), nil
}

// TokenRequest carries the parameters of a token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// ExchangeCode redeems an authorization code for an access token. The code
// is consumed atomically before any validation, PKCE is verified against
// the stored challenge, and only then is the upstream code exchanged. The
// issued token is mapped to the upstream token.
func (p *Provider) ExchangeCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.GrantType != "authorization_code" {
		return nil, unsupportedGrantType("only authorization_code is supported")
	}
	if req.Code == "" {
		return nil, invalidRequest("code is required")
	}
	if req.CodeVerifier == "" {
		return nil, invalidRequest("code_verifier is required")
	}

	record, err := p.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err == ErrCodeConsumed {
		p.logger.Warn("replayed authorization code rejected", "client_id", req.ClientID)
		return nil, invalidGrant("authorization code already used")
	}
	if err == ErrNotFound {
		return nil, invalidGrant("authorization code is invalid or expired")
	}
	if err != nil {
		p.logger.Error("failed to consume authorization code", "error", err.Error())
		return nil, serverError("failed to consume authorization code")
	}

	if req.ClientID != record.ClientID {
		return nil, invalidGrant("authorization code was issued to a different client")
	}
	if record.RedirectURIExplicit && req.RedirectURI != record.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}
	if !auth.VerifyPKCE(req.CodeVerifier, record.CodeChallenge) {
		p.logger.Warn("PKCE verification failed", "client_id", record.ClientID)
		return nil, invalidGrant("PKCE verification failed")
	}

	upstreamTokens, err := p.exchangeUpstream(ctx, record)
	if err != nil {
		p.logger.Error("upstream token exchange failed", "error", err.Error())
		return nil, invalidGrant("upstream token exchange failed")
	}

	token, err := generateOpaque()
	if err != nil {
		return nil, serverError("failed to generate token")
	}

	now := time.Now()
	expiresAt := upstreamTokens.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultTokenTTL)
	}

	issued := &AccessToken{
		Token:     token,
		ClientID:  record.ClientID,
		Scopes:    record.Scopes,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := p.store.SaveToken(ctx, issued); err != nil {
		p.logger.Error("failed to save token", "error", err.Error())
		return nil, serverError("failed to save token")
	}
	mapping := &TokenMapping{
		Token:                token,
		UpstreamToken:        upstreamTokens.AccessToken,
		UpstreamRefreshToken: upstreamTokens.RefreshToken,
		ExpiresAt:            expiresAt,
		CreatedAt:            now,
	}
	if err := p.store.SaveTokenMapping(ctx, mapping); err != nil {
		p.logger.Error("failed to save token mapping", "error", err.Error())
		return nil, serverError("failed to save token mapping")
	}

	p.logger.Info("access token issued",
		"client_id", record.ClientID,
		"expires_at", expiresAt.Format(time.RFC3339),
	)
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		Scope:       strings.Join(record.Scopes, " "),
	}, nil
}

// LoadAccessToken validates a bearer token. Expired tokens are removed and
// reported as ErrNotFound, so an expired token can never authorize a
// request.
func (p *Provider) LoadAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	return p.store.GetToken(ctx, token)
}

// VerifyBearer validates a bearer token presented to the MCP endpoint.
// Provider-issued opaque tokens resolve through the store. A token in JWT
// form is instead verified against the upstream JWKS, so clients holding a
// platform-issued token can use it directly; the resulting record is marked
// Direct and never persisted.
func (p *Provider) VerifyBearer(ctx context.Context, token string) (*AccessToken, error) {
	record, err := p.store.GetToken(ctx, token)
	if err == nil {
		return record, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	if strings.Count(token, ".") != 2 {
		return nil, ErrNotFound
	}

	verifier, err := p.jwtVerifier(ctx)
	if err != nil {
		p.logger.Error("JWKS verifier unavailable", "error", err.Error())
		return nil, ErrNotFound
	}
	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		p.logger.Warn("bearer JWT rejected", "error", err.Error())
		return nil, ErrNotFound
	}

	direct := &AccessToken{
		Token:     token,
		Direct:    true,
		CreatedAt: time.Now(),
	}
	if claims.ExpiresAt != nil {
		direct.ExpiresAt = claims.ExpiresAt.Time
	}
	return direct, nil
}

// jwtVerifier lazily builds the JWKS verifier from the discovered jwks_uri.
func (p *Provider) jwtVerifier(ctx context.Context) (*Verifier, error) {
	p.mu.RLock()
	v := p.verifier
	p.mu.RUnlock()
	if v != nil {
		return v, nil
	}

	serverCfg, err := p.upstreamConfig(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifier == nil {
		p.verifier = NewVerifier(serverCfg.JwksURI, p.upstream.HTTPClient, p.logger)
	}
	return p.verifier, nil
}

// UpstreamToken returns the SingleStore token mapped to a provider-issued
// token.
func (p *Provider) UpstreamToken(ctx context.Context, token string) (string, error) {
	mapping, err := p.store.GetTokenMapping(ctx, token)
	if err != nil {
		return "", err
	}
	return mapping.UpstreamToken, nil
}

// RevokeToken removes a token and its upstream mapping.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	if err := p.store.DeleteToken(ctx, token); err != nil {
		return err
	}
	return p.store.DeleteTokenMapping(ctx, token)
}

// upstreamConfig resolves the upstream endpoints once and caches them.
// Concurrent callers share a single discovery request.
func (p *Provider) upstreamConfig(ctx context.Context) (*auth.ServerConfig, error) {
	p.mu.RLock()
	cfg := p.serverCfg
	p.mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}

	result, err, _ := p.metaGroup.Do("discovery", func() (interface{}, error) {
		discovered, err := auth.Discover(ctx, p.upstream.HTTPClient, p.upstream.OAuthHost)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.serverCfg = discovered
		p.mu.Unlock()
		return discovered, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*auth.ServerConfig), nil
}

// upstreamTokenSet mirrors the upstream token endpoint response.
type upstreamTokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (p *Provider) exchangeUpstream(ctx context.Context, record *AuthorizationCode) (*upstreamTokenSet, error) {
	serverCfg, err := p.upstreamConfig(ctx)
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:    p.upstream.ClientID,
		RedirectURL: record.UpstreamRedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  serverCfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.upstream.HTTPClient)
	tok, err := conf.Exchange(ctx, record.UpstreamCode,
		oauth2.SetAuthURLParam("code_verifier", record.UpstreamVerifier))
	if err != nil {
		return nil, fmt.Errorf("upstream token exchange failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("upstream token response missing access_token")
	}

	return &upstreamTokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// generateOpaque returns a 256-bit random, URL-safe opaque value used for
// authorization codes, tokens, and upstream state.
func generateOpaque() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// splitScope splits a space-separated scope string, dropping empties.
func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
