package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Verifier errors.
var (
	// ErrInvalidToken means the JWT failed signature or claim validation.
	ErrInvalidToken = errors.New("oauth: invalid token")

	// ErrTokenExpired means the JWT is past its exp claim.
	ErrTokenExpired = errors.New("oauth: token expired")

	// ErrUnknownKey means the token's kid is not in the JWKS, even after a
	// refresh.
	ErrUnknownKey = errors.New("oauth: unknown signing key")
)

// jwksCacheTTL is how long fetched keys are served before a refetch.
const jwksCacheTTL = time.Hour

// jwk is a single JSON Web Key from the JWKS document. Only RSA signing
// keys are used.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// Claims are the validated claims from a bearer JWT.
type Claims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Username string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates JWT bearer tokens against the identity provider's
// JWKS. Keys are cached by kid with a TTL; an unknown kid triggers one
// refresh before the token is rejected, so key rotation does not invalidate
// fresh tokens. Concurrent refreshes collapse into a single fetch.
type Verifier struct {
	jwksURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group singleflight.Group
}

// NewVerifier creates a verifier for the given JWKS endpoint.
func NewVerifier(jwksURL string, httpClient *http.Client, logger *slog.Logger) *Verifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		jwksURL:    jwksURL,
		httpClient: httpClient,
		logger:     logger,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Verify parses and validates a JWT, returning its claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keyForKid(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, ErrUnknownKey) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// keyForKid returns the public key for kid, refreshing the JWKS once if the
// kid is unknown or the cache is stale.
func (v *Verifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.fetchedAt) < jwksCacheTTL
	v.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if _, err, _ := v.group.Do("refresh", func() (interface{}, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// refresh fetches the JWKS document and rebuilds the key cache.
func (v *Verifier) refresh(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("malformed JWKS document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := buildRSAPublicKey(k)
		if err != nil {
			v.logger.Warn("skipping unusable JWKS key", "kid", k.Kid, "error", err.Error())
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	v.logger.Debug("refreshed JWKS", "keys", len(keys))
	return nil
}

// buildRSAPublicKey assembles an RSA public key from the base64url modulus
// and exponent of a JWK.
func buildRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("non-positive exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
