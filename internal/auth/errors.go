package auth

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when no valid credentials exist and an
// interactive login is required.
var ErrNotAuthenticated = errors.New("not authenticated")

// DiscoveryError indicates that the OAuth server's metadata document could
// not be fetched or was missing required endpoints. Discovery failures abort
// the login attempt; there is no silent retry.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover OAuth endpoints from %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CallbackTimeoutError indicates that no callback arrived within the
// configured authentication timeout. The flow must be restarted from scratch.
type CallbackTimeoutError struct {
	Timeout string
}

func (e *CallbackTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for authentication after %s - please try again", e.Timeout)
}

// MalformedCallbackError indicates the callback request carried neither an
// authorization code nor an error parameter.
type MalformedCallbackError struct{}

func (e *MalformedCallbackError) Error() string {
	return "malformed callback: no authorization code or error received"
}

// AuthorizationDeniedError indicates the provider explicitly denied the
// authorization request. It carries the provider's reason and must never be
// masked by a state-mismatch error.
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization denied: %s", e.Code)
}

// StateMismatchError indicates the state returned by the authorization
// server did not match the one we generated. Treated as a potential CSRF
// attempt; the code is never exchanged.
type StateMismatchError struct{}

func (e *StateMismatchError) Error() string {
	return "state parameter mismatch - the response looks tampered with, aborting"
}

// TokenExchangeError indicates the token endpoint rejected the code
// exchange. Carries the HTTP status and response body for diagnostics.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// InvalidTokenResponseError indicates the token endpoint returned 200 but
// the response was missing the access token.
type InvalidTokenResponseError struct {
	Reason string
}

func (e *InvalidTokenResponseError) Error() string {
	return fmt.Sprintf("invalid token response: %s", e.Reason)
}
