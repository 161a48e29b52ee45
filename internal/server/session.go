package server

import (
	"context"
	"errors"

	"s2mcp/internal/auth"
	"s2mcp/internal/oauth"
)

// LocalSession resolves tokens for the stdio deployment: the persisted
// credentials of the interactively authenticated user, refreshed when
// possible. Never returns an expired token.
type LocalSession struct {
	authenticator *auth.Authenticator
}

// NewLocalSession creates a session accessor backed by the interactive
// authenticator.
func NewLocalSession(authenticator *auth.Authenticator) *LocalSession {
	return &LocalSession{authenticator: authenticator}
}

// AccessToken returns the current upstream access token, or
// auth.ErrNotAuthenticated when an interactive login is required.
func (s *LocalSession) AccessToken(ctx context.Context) (string, error) {
	return s.authenticator.AccessToken(ctx)
}

// RemoteSession resolves tokens for the HTTP deployment: the caller's
// bearer token, validated by the middleware, is translated to the upstream
// token through the provider's mapping table.
type RemoteSession struct {
	provider *oauth.Provider
}

// NewRemoteSession creates a session accessor backed by the OAuth provider.
func NewRemoteSession(provider *oauth.Provider) *RemoteSession {
	return &RemoteSession{provider: provider}
}

// AccessToken returns the upstream token for the request's bearer token.
// A direct bearer (an upstream JWT the middleware verified via JWKS) is its
// own upstream token; provider-issued tokens resolve through the mapping
// table. The middleware already rejected missing, unknown, and expired
// tokens; a missing mapping here still reports not authenticated rather
// than an internal error.
func (s *RemoteSession) AccessToken(ctx context.Context) (string, error) {
	record := oauth.TokenFromContext(ctx)
	if record == nil {
		return "", auth.ErrNotAuthenticated
	}
	if record.Direct {
		return record.Token, nil
	}

	upstream, err := s.provider.UpstreamToken(ctx, record.Token)
	if errors.Is(err, oauth.ErrNotFound) {
		return "", auth.ErrNotAuthenticated
	}
	if err != nil {
		return "", err
	}
	return upstream, nil
}
