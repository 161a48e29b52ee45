package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOAuthServer simulates the provider's discovery and token endpoints.
type fakeOAuthServer struct {
	srv        *httptest.Server
	tokenCalls atomic.Int64

	// issuedCode is the code the fake provider hands out.
	issuedCode string

	// expectedVerifier, when set, is checked against code_verifier in the
	// token request.
	expectedChallenge string

	// tokenStatus overrides the token endpoint status when non-zero.
	tokenStatus int

	// tokenBody overrides the token endpoint body when non-empty.
	tokenBody string
}

func newFakeOAuthServer(t *testing.T) *fakeOAuthServer {
	t.Helper()

	f := &fakeOAuthServer{issuedCode: "fake-auth-code"}

	mux := http.NewServeMux()
	mux.HandleFunc(wellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"jwks_uri": %q
		}`, f.srv.URL, f.srv.URL+"/authorize", f.srv.URL+"/token", f.srv.URL+"/jwks")
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if f.expectedChallenge != "" {
			if !VerifyPKCE(r.PostForm.Get("code_verifier"), f.expectedChallenge) {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
		}
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			fmt.Fprint(w, f.tokenBody)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := f.tokenBody
		if body == "" {
			body = `{
				"access_token": "fake-access-token",
				"refresh_token": "fake-refresh-token",
				"token_type": "Bearer",
				"expires_in": 3600
			}`
		}
		fmt.Fprint(w, body)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// browserFor returns an openBrowser stand-in that immediately completes the
// callback, optionally rewriting the query parameters first.
func (f *fakeOAuthServer) browserFor(t *testing.T, rewrite func(q url.Values)) func(string) error {
	t.Helper()

	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()

		f.expectedChallenge = q.Get("code_challenge")

		cb := url.Values{}
		cb.Set("code", f.issuedCode)
		cb.Set("state", q.Get("state"))
		if rewrite != nil {
			rewrite(cb)
		}

		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newTestAuthenticator(t *testing.T, f *fakeOAuthServer, creds *CredentialsStore) *Authenticator {
	t.Helper()

	a := NewAuthenticator(Config{
		OAuthHost:   f.srv.URL,
		ClientID:    "test-client",
		AuthTimeout: 5 * time.Second,
	}, creds, nil)
	return a
}

func TestLoginSuccess(t *testing.T) {
	f := newFakeOAuthServer(t)
	creds, err := NewCredentialsStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCredentialsStore failed: %v", err)
	}

	a := newTestAuthenticator(t, f, creds)
	a.openBrowser = f.browserFor(t, nil)

	tokens, err := a.Login(context.Background())
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tokens.AccessToken != "fake-access-token" {
		t.Errorf("unexpected access token %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "fake-refresh-token" {
		t.Errorf("unexpected refresh token %q", tokens.RefreshToken)
	}
	if tokens.ExpiresAt.Before(time.Now().Add(59 * time.Minute)) {
		t.Errorf("expiry not derived from expires_in: %v", tokens.ExpiresAt)
	}

	// The token set must be persisted for later runs.
	loaded, err := creds.Load()
	if err != nil {
		t.Fatalf("Load after login failed: %v", err)
	}
	if loaded.AccessToken != tokens.AccessToken {
		t.Error("persisted token does not match returned token")
	}
}

func TestLoginDeniedBeforeStateCheck(t *testing.T) {
	f := newFakeOAuthServer(t)
	a := newTestAuthenticator(t, f, nil)

	// The provider denies the request AND the state is wrong. The denial
	// must surface; a state mismatch must not mask it.
	a.openBrowser = f.browserFor(t, func(q url.Values) {
		q.Del("code")
		q.Set("error", "access_denied")
		q.Set("error_description", "user declined")
		q.Set("state", "tampered-state")
	})

	_, err := a.Login(context.Background())
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AuthorizationDeniedError, got %v", err)
	}
	if denied.Code != "access_denied" {
		t.Errorf("unexpected error code %q", denied.Code)
	}
	if n := f.tokenCalls.Load(); n != 0 {
		t.Errorf("token endpoint called %d times after denial", n)
	}
}

func TestLoginStateMismatch(t *testing.T) {
	f := newFakeOAuthServer(t)
	a := newTestAuthenticator(t, f, nil)

	a.openBrowser = f.browserFor(t, func(q url.Values) {
		q.Set("state", "forged-state")
	})

	_, err := a.Login(context.Background())
	var mismatch *StateMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected StateMismatchError, got %v", err)
	}

	// The suspect code must never reach the token endpoint.
	if n := f.tokenCalls.Load(); n != 0 {
		t.Errorf("token endpoint called %d times after state mismatch", n)
	}
}

func TestLoginTokenExchangeFailure(t *testing.T) {
	f := newFakeOAuthServer(t)
	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error":"invalid_grant"}`

	a := newTestAuthenticator(t, f, nil)
	a.openBrowser = f.browserFor(t, nil)

	_, err := a.Login(context.Background())
	var exchErr *TokenExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
	if exchErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected status %d", exchErr.StatusCode)
	}
}

func TestLoginMissingAccessToken(t *testing.T) {
	f := newFakeOAuthServer(t)
	f.tokenBody = `{"token_type": "Bearer"}`

	a := newTestAuthenticator(t, f, nil)
	a.openBrowser = f.browserFor(t, nil)

	_, err := a.Login(context.Background())
	var invalid *InvalidTokenResponseError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTokenResponseError, got %v", err)
	}
}

func TestLoginTimeout(t *testing.T) {
	f := newFakeOAuthServer(t)

	a := NewAuthenticator(Config{
		OAuthHost:   f.srv.URL,
		ClientID:    "test-client",
		AuthTimeout: 100 * time.Millisecond,
	}, nil, nil)
	a.openBrowser = func(string) error { return nil }

	_, err := a.Login(context.Background())
	var timeout *CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected CallbackTimeoutError, got %v", err)
	}
}

func TestAuthorizationURLParameters(t *testing.T) {
	f := newFakeOAuthServer(t)
	a := newTestAuthenticator(t, f, nil)

	var captured string
	a.openBrowser = func(u string) error {
		captured = u
		return f.browserFor(t, nil)(u)
	}

	if _, err := a.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	u, err := url.Parse(captured)
	if err != nil {
		t.Fatalf("failed to parse authorization URL: %v", err)
	}
	q := u.Query()

	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "test-client" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if q.Get("code_challenge") == "" {
		t.Error("missing code_challenge")
	}
	if q.Get("state") == "" {
		t.Error("missing state")
	}
	if q.Get("redirect_uri") == "" {
		t.Error("missing redirect_uri")
	}
}

func TestAccessToken(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		f := newFakeOAuthServer(t)
		creds, _ := NewCredentialsStore(t.TempDir())
		a := newTestAuthenticator(t, f, creds)

		_, err := a.AccessToken(context.Background())
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("valid cached token", func(t *testing.T) {
		f := newFakeOAuthServer(t)
		creds, _ := NewCredentialsStore(t.TempDir())
		_ = creds.Save(&TokenSet{
			AccessToken: "cached-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		})

		a := newTestAuthenticator(t, f, creds)
		token, err := a.AccessToken(context.Background())
		if err != nil {
			t.Fatalf("AccessToken failed: %v", err)
		}
		if token != "cached-token" {
			t.Errorf("unexpected token %q", token)
		}
		if n := f.tokenCalls.Load(); n != 0 {
			t.Errorf("token endpoint called %d times for valid cached token", n)
		}
	})

	t.Run("expired token refreshed", func(t *testing.T) {
		f := newFakeOAuthServer(t)
		creds, _ := NewCredentialsStore(t.TempDir())
		_ = creds.Save(&TokenSet{
			AccessToken:  "stale-token",
			RefreshToken: "refresh-me",
			ExpiresAt:    time.Now().Add(-time.Minute),
		})

		a := newTestAuthenticator(t, f, creds)
		token, err := a.AccessToken(context.Background())
		if err != nil {
			t.Fatalf("AccessToken failed: %v", err)
		}
		if token != "fake-access-token" {
			t.Errorf("unexpected token %q", token)
		}

		// The refreshed set must be persisted.
		loaded, err := creds.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.AccessToken != "fake-access-token" {
			t.Error("refreshed token not persisted")
		}
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		f := newFakeOAuthServer(t)
		creds, _ := NewCredentialsStore(t.TempDir())
		_ = creds.Save(&TokenSet{
			AccessToken: "stale-token",
			ExpiresAt:   time.Now().Add(-time.Minute),
		})

		a := newTestAuthenticator(t, f, creds)
		_, err := a.AccessToken(context.Background())
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestRefreshTokenKeepsOldRefreshToken(t *testing.T) {
	f := newFakeOAuthServer(t)
	f.tokenBody = `{"access_token": "new-access", "token_type": "Bearer", "expires_in": 600}`

	a := newTestAuthenticator(t, f, nil)
	tokens, err := a.RefreshToken(context.Background(), "original-refresh")
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if tokens.AccessToken != "new-access" {
		t.Errorf("unexpected access token %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "original-refresh" {
		t.Errorf("rotating provider response dropped refresh token: %q", tokens.RefreshToken)
	}
}
