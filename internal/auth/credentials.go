package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCredentialsDir is the default directory for persisted credentials,
// relative to the user's home directory.
const DefaultCredentialsDir = ".s2mcp"

// credentialsFileName is the file holding the current token set.
const credentialsFileName = "credentials.json"

// tokenExpiryBuffer is the margin applied when checking token validity.
// Accounts for clock skew and network latency on the request that will
// carry the token.
const tokenExpiryBuffer = 60 * time.Second

// TokenSet holds the tokens obtained from a completed authorization flow.
type TokenSet struct {
	// AccessToken is the bearer token for API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken allows obtaining a new access token without user
	// interaction. Empty when the provider did not issue one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresAt is the absolute expiry, computed from expires_in at the
	// moment the token response was received.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// IDToken is the OIDC ID token, if issued.
	IDToken string `json:"id_token,omitempty"`

	// Scope is the space-separated scopes granted by the server.
	Scope string `json:"scope,omitempty"`
}

// Valid reports whether the access token is present and not expired.
// A zero expiry means the server did not report one; such tokens are
// treated as valid.
func (t *TokenSet) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(tokenExpiryBuffer).Before(t.ExpiresAt)
}

// CredentialsStore persists the token set for the local CLI between runs.
//
// SECURITY: the credentials file holds live tokens. The directory is
// created with 0700 and the file written with 0600. Token values are never
// logged.
type CredentialsStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialsStore creates a store rooted at dir. An empty dir defaults
// to ~/.s2mcp.
func NewCredentialsStore(dir string) (*CredentialsStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultCredentialsDir)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	return &CredentialsStore{path: filepath.Join(dir, credentialsFileName)}, nil
}

// Path returns the location of the credentials file.
func (s *CredentialsStore) Path() string {
	return s.path
}

// Save writes the token set to disk with owner-only permissions.
func (s *CredentialsStore) Save(tokens *TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		slog.Warn("failed to persist credentials",
			"path", s.path,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	slog.Info("credentials stored",
		"path", s.path,
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", tokens.RefreshToken != "",
	)
	return nil
}

// Load reads the persisted token set. Returns ErrNotAuthenticated when the
// file does not exist.
func (s *CredentialsStore) Load() (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	return &tokens, nil
}

// Clear removes the persisted credentials. Missing file is not an error.
func (s *CredentialsStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}

	slog.Info("credentials cleared", "path", s.path)
	return nil
}
