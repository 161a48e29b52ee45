package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy and encodes to 43 base64url
	// characters, the minimum length RFC 7636 allows.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	stateBytes = 32
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
// PKCE binds an authorization code to the client that requested it and is
// required for OAuth 2.1 public clients.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string. It is kept
	// secret and only transmitted in the final token request.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded,
	// no padding). This is what goes into the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256"; plain is not allowed.
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and challenge.
// The verifier is 32 random bytes, base64url-encoded; the challenge is the
// S256 (SHA256) hash of the verifier.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}

// VerifyPKCE checks a code verifier against a previously stored S256
// challenge. Used by the provider side at code-exchange time.
func VerifyPKCE(verifier, challenge string) bool {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
}

// GenerateState generates a random state parameter for OAuth.
// The state links the authorization response back to the original request
// and prevents CSRF attacks.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
