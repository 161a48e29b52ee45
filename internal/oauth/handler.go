package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is the type for values the middleware stores on the request
// context.
type contextKey string

// tokenContextKey holds the validated *AccessToken.
const tokenContextKey contextKey = "oauth_token"

// Handler exposes the provider over HTTP: server metadata, dynamic client
// registration, the authorization and token endpoints, and the upstream
// callback.
type Handler struct {
	provider *Provider
	issuer   string
	logger   *slog.Logger
}

// NewHandler creates an HTTP handler for the provider. issuer is the
// externally visible base URL of this server.
func NewHandler(provider *Provider, issuer string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		provider: provider,
		issuer:   strings.TrimSuffix(issuer, "/"),
		logger:   logger,
	}
}

// Register mounts the OAuth endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleMetadata)
	mux.HandleFunc("POST /oauth/register", h.handleRegister)
	mux.HandleFunc("GET /oauth/authorize", h.handleAuthorize)
	mux.HandleFunc("GET /oauth/callback", h.handleCallback)
	mux.HandleFunc("POST /oauth/token", h.handleToken)
}

// handleMetadata serves the RFC 8414 authorization server metadata.
func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta := Metadata{
		Issuer:                            h.issuer,
		AuthorizationEndpoint:             h.issuer + "/oauth/authorize",
		TokenEndpoint:                     h.issuer + "/oauth/token",
		RegistrationEndpoint:              h.issuer + "/oauth/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		h.logger.Error("failed to encode metadata", "error", err.Error())
	}
}

// handleRegister handles dynamic client registration.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, invalidRequest("request body is not valid JSON"))
		return
	}

	client, err := h.provider.RegisterClient(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(client); err != nil {
		h.logger.Error("failed to encode registration response", "error", err.Error())
	}
}

// handleAuthorize validates the authorization request and redirects the
// browser to the upstream identity provider. Failures are rendered as an
// HTML error page; nothing is ever redirected to an unvalidated URI.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Scope:               q.Get("scope"),
	}

	upstreamURL, err := h.provider.Authorize(r.Context(), req)
	if err != nil {
		h.renderErrorPage(w, errorMessage(err))
		return
	}

	http.Redirect(w, r, upstreamURL, http.StatusFound)
}

// handleCallback processes the redirect back from the upstream identity
// provider and forwards the browser to the client's redirect URI.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("upstream authorization failed",
			"error", errParam,
			"description", q.Get("error_description"),
		)
		h.renderErrorPage(w, fmt.Sprintf("Authentication failed: %s", q.Get("error_description")))
		return
	}

	redirect, err := h.provider.HandleUpstreamCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		h.renderErrorPage(w, errorMessage(err))
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleToken handles the token endpoint.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, invalidRequest("request body is not a valid form"))
		return
	}

	req := &TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	}

	resp, err := h.provider.ExchangeCode(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode token response", "error", err.Error())
	}
}

// Middleware returns an http.Handler that requires a valid bearer token on
// every request. The validated token is placed on the request context.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeUnauthorized(w, "missing bearer token")
			return
		}

		record, err := h.provider.VerifyBearer(r.Context(), token)
		if err == ErrNotFound {
			h.writeUnauthorized(w, "invalid or expired token")
			return
		}
		if err != nil {
			h.logger.Error("token validation failed", "error", err.Error())
			h.writeError(w, serverError("token validation failed"))
			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), tokenContextKey, record)))
	})
}

// TokenFromContext returns the validated access token the middleware stored
// on the context, or nil.
func TokenFromContext(ctx context.Context) *AccessToken {
	token, _ := ctx.Value(tokenContextKey).(*AccessToken)
	return token
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer resource_metadata=%q`, h.issuer+"/.well-known/oauth-authorization-server"))
	h.writeError(w, &Error{
		Code:        "invalid_token",
		Description: description,
		Status:      http.StatusUnauthorized,
	})
}

// writeError renders an OAuth error as JSON with the appropriate status.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	oauthErr, ok := err.(*Error)
	if !ok {
		oauthErr = serverError("internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oauthErr.Status)
	if encodeErr := json.NewEncoder(w).Encode(oauthErr); encodeErr != nil {
		h.logger.Error("failed to encode error response", "error", encodeErr.Error())
	}
}

// errorMessage extracts a user-facing message from a provider error.
func errorMessage(err error) string {
	if oauthErr, ok := err.(*Error); ok && oauthErr.Description != "" {
		return oauthErr.Description
	}
	return "Authentication failed. Please try again."
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// renderErrorPage renders an HTML page for browser-facing failures.
func (h *Handler) renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	safeMessage := html.EscapeString(message)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authentication Failed</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #1c1033;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e8e8e8;
        }
        .container {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            border: 1px solid rgba(255, 255, 255, 0.1);
            max-width: 500px;
            margin: 1rem;
        }
        h1 { font-size: 1.75rem; font-weight: 600; color: #fff; }
        .message { color: #ff6b6b; font-weight: 500; margin-top: 1rem; }
        p { color: #a0a0a0; line-height: 1.6; margin-top: 1rem; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authentication Failed</h1>
        <p class="message">%s</p>
        <p>Please return to your application and try again.</p>
    </div>
</body>
</html>`, safeMessage)
}
