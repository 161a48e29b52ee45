package oauth

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when no record exists. Expired
// records are reported the same way as missing ones.
var ErrNotFound = errors.New("oauth: not found")

// ErrCodeConsumed is returned when an authorization code has already been
// redeemed. Codes are strictly single use.
var ErrCodeConsumed = errors.New("oauth: authorization code already used")

// Store persists OAuth provider state: client registrations, authorization
// codes, issued tokens, and token mappings. Implementations must make
// ConsumeAuthorizationCode atomic so a code can never be redeemed twice,
// even under concurrent exchange requests.
type Store interface {
	// SaveClient persists a client registration.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns a registration by client_id.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveAuthorizationCode persists a freshly minted code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically fetches and deletes a code.
	// Returns ErrNotFound for unknown or expired codes and ErrCodeConsumed
	// when the code was already redeemed.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveToken persists an issued access token.
	SaveToken(ctx context.Context, token *AccessToken) error

	// GetToken returns a non-expired token by value. Expired tokens are
	// removed and reported as ErrNotFound.
	GetToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteToken removes a token. Missing tokens are not an error.
	DeleteToken(ctx context.Context, token string) error

	// SaveTokenMapping persists a provider-to-upstream token mapping.
	SaveTokenMapping(ctx context.Context, mapping *TokenMapping) error

	// GetTokenMapping returns the mapping for a provider-issued token.
	GetTokenMapping(ctx context.Context, token string) (*TokenMapping, error)

	// DeleteTokenMapping removes a mapping. Missing mappings are not an
	// error.
	DeleteTokenMapping(ctx context.Context, token string) error

	// Close releases store resources.
	Close() error
}
