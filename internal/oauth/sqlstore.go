package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// SQLStore persists provider state in a SingleStore (MySQL wire protocol)
// database, so a multi-replica deployment shares one view of clients, codes,
// and tokens. Redeemed codes are marked consumed rather than deleted; a
// single conditional UPDATE is the consumption point, which keeps the
// single-use guarantee without explicit row locking.
type SQLStore struct {
	db *sql.DB

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	client_id                  VARCHAR(64) PRIMARY KEY,
	client_secret              VARCHAR(128) NOT NULL DEFAULT '',
	client_name                VARCHAR(255) NOT NULL DEFAULT '',
	redirect_uris              TEXT NOT NULL,
	grant_types                TEXT NOT NULL,
	response_types             TEXT NOT NULL,
	token_endpoint_auth_method VARCHAR(32) NOT NULL DEFAULT 'none',
	scope                      TEXT NOT NULL,
	created_at                 TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
	code                  VARCHAR(128) PRIMARY KEY,
	client_id             VARCHAR(64) NOT NULL,
	redirect_uri          TEXT NOT NULL,
	redirect_uri_explicit BOOLEAN NOT NULL DEFAULT FALSE,
	code_challenge        VARCHAR(128) NOT NULL,
	code_challenge_method VARCHAR(16) NOT NULL DEFAULT 'S256',
	scopes                TEXT NOT NULL,
	upstream_code         TEXT NOT NULL,
	upstream_verifier     VARCHAR(128) NOT NULL DEFAULT '',
	upstream_redirect_uri TEXT NOT NULL,
	expires_at            TIMESTAMP NOT NULL,
	consumed_at           TIMESTAMP NULL DEFAULT NULL,
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	token      VARCHAR(128) PRIMARY KEY,
	client_id  VARCHAR(64) NOT NULL,
	scopes     TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS oauth_token_mappings (
	token                  VARCHAR(128) PRIMARY KEY,
	upstream_token         TEXT NOT NULL,
	upstream_refresh_token TEXT NOT NULL,
	expires_at             TIMESTAMP NOT NULL,
	created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLStore opens the database, applies the schema, and starts the sweep
// loop. dsn is a go-sql-driver DSN; parseTime=true is required.
func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStore{
		db:          db,
		stopCleanup: make(chan struct{}),
	}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	go s.cleanupLoop()

	return s, nil
}

func (s *SQLStore) applySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(sqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) SaveClient(ctx context.Context, client *Client) error {
	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to encode redirect URIs: %w", err)
	}
	grantTypes, _ := json.Marshal(client.GrantTypes)
	responseTypes, _ := json.Marshal(client.ResponseTypes)

	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO oauth_clients
			(client_id, client_secret, client_name, redirect_uris, grant_types,
			 response_types, token_endpoint_auth_method, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID, client.ClientSecret, client.ClientName,
		string(redirectURIs), string(grantTypes), string(responseTypes),
		client.TokenEndpointAuthMethod, client.Scope, client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (s *SQLStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_id, client_secret, client_name, redirect_uris, grant_types,
		       response_types, token_endpoint_auth_method, scope, created_at
		FROM oauth_clients WHERE client_id = ?`, clientID)

	var client Client
	var redirectURIs, grantTypes, responseTypes string
	err := row.Scan(&client.ClientID, &client.ClientSecret, &client.ClientName,
		&redirectURIs, &grantTypes, &responseTypes,
		&client.TokenEndpointAuthMethod, &client.Scope, &client.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if err := json.Unmarshal([]byte(redirectURIs), &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("corrupt redirect URIs for client %s: %w", clientID, err)
	}
	_ = json.Unmarshal([]byte(grantTypes), &client.GrantTypes)
	_ = json.Unmarshal([]byte(responseTypes), &client.ResponseTypes)
	return &client, nil
}

func (s *SQLStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	scopes, _ := json.Marshal(code.Scopes)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_authorization_codes
			(code, client_id, redirect_uri, redirect_uri_explicit, code_challenge,
			 code_challenge_method, scopes, upstream_code, upstream_verifier,
			 upstream_redirect_uri, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.RedirectURI, code.RedirectURIExplicit,
		code.CodeChallenge, code.CodeChallengeMethod, string(scopes),
		code.UpstreamCode, code.UpstreamVerifier, code.UpstreamRedirectURI,
		code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode marks the code consumed with a single conditional
// UPDATE. Concurrent redeemers race on that UPDATE; exactly one sees an
// affected row and wins.
func (s *SQLStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_authorization_codes
		SET consumed_at = CURRENT_TIMESTAMP
		WHERE code = ? AND consumed_at IS NULL`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if affected == 0 {
		var exists bool
		row := s.db.QueryRowContext(ctx,
			`SELECT TRUE FROM oauth_authorization_codes WHERE code = ?`, code)
		if err := row.Scan(&exists); err == nil {
			return nil, ErrCodeConsumed
		}
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT code, client_id, redirect_uri, redirect_uri_explicit, code_challenge,
		       code_challenge_method, scopes, upstream_code, upstream_verifier,
		       upstream_redirect_uri, expires_at, created_at
		FROM oauth_authorization_codes WHERE code = ?`, code)

	var record AuthorizationCode
	var scopes string
	err = row.Scan(&record.Code, &record.ClientID, &record.RedirectURI,
		&record.RedirectURIExplicit, &record.CodeChallenge, &record.CodeChallengeMethod,
		&scopes, &record.UpstreamCode, &record.UpstreamVerifier,
		&record.UpstreamRedirectURI, &record.ExpiresAt, &record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumed authorization code: %w", err)
	}
	_ = json.Unmarshal([]byte(scopes), &record.Scopes)

	if record.Expired() {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *SQLStore) SaveToken(ctx context.Context, token *AccessToken) error {
	scopes, _ := json.Marshal(token.Scopes)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (token, client_id, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		token.Token, token.ClientID, string(scopes), token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *SQLStore) GetToken(ctx context.Context, token string) (*AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, scopes, expires_at, created_at
		FROM oauth_tokens WHERE token = ?`, token)

	var record AccessToken
	var scopes string
	err := row.Scan(&record.Token, &record.ClientID, &scopes,
		&record.ExpiresAt, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	_ = json.Unmarshal([]byte(scopes), &record.Scopes)

	if record.Expired() {
		_ = s.DeleteToken(ctx, token)
		_ = s.DeleteTokenMapping(ctx, token)
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *SQLStore) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveTokenMapping(ctx context.Context, mapping *TokenMapping) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO oauth_token_mappings
			(token, upstream_token, upstream_refresh_token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		mapping.Token, mapping.UpstreamToken, mapping.UpstreamRefreshToken,
		mapping.ExpiresAt, mapping.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token mapping: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTokenMapping(ctx context.Context, token string) (*TokenMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, upstream_token, upstream_refresh_token, expires_at, created_at
		FROM oauth_token_mappings WHERE token = ?`, token)

	var mapping TokenMapping
	err := row.Scan(&mapping.Token, &mapping.UpstreamToken,
		&mapping.UpstreamRefreshToken, &mapping.ExpiresAt, &mapping.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token mapping: %w", err)
	}
	return &mapping, nil
}

func (s *SQLStore) DeleteTokenMapping(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_token_mappings WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete token mapping: %w", err)
	}
	return nil
}

// Close stops the sweep loop and closes the database.
func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	return s.db.Close()
}

func (s *SQLStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired codes and tokens. Consumed codes are kept for a
// short window so replays are distinguishable from unknown codes.
func (s *SQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeps := []struct {
		name string
		stmt string
	}{
		{"codes", `DELETE FROM oauth_authorization_codes
			WHERE (expires_at < CURRENT_TIMESTAMP AND consumed_at IS NULL)
			   OR (consumed_at IS NOT NULL AND consumed_at < CURRENT_TIMESTAMP - INTERVAL 10 MINUTE)`},
		{"tokens", `DELETE FROM oauth_tokens WHERE expires_at < CURRENT_TIMESTAMP`},
		{"mappings", `DELETE FROM oauth_token_mappings WHERE expires_at < CURRENT_TIMESTAMP`},
	}

	for _, sweep := range sweeps {
		res, err := s.db.ExecContext(ctx, sweep.stmt)
		if err != nil {
			slog.Warn("oauth store sweep failed", "table", sweep.name, "error", err.Error())
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			slog.Debug("swept expired oauth records", "table", sweep.name, "count", n)
		}
	}
}
