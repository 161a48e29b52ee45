// Package server assembles the MCP server for both deployment modes:
// stdio with the interactive browser login, and streamable HTTP behind the
// OAuth provider.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"s2mcp/internal/auth"
	"s2mcp/internal/config"
	"s2mcp/internal/oauth"
	"s2mcp/internal/platform"
	"s2mcp/internal/tools"
)

// Server hosts the MCP tool surface over the configured transport.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	mcp    *mcpserver.MCPServer

	// provider and oauthHandler are set in HTTP mode only.
	provider     *oauth.Provider
	oauthHandler *oauth.Handler
}

// New builds the server: token source per transport, platform client, and
// the full tool catalogue.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mcp: mcpserver.NewMCPServer(
			"s2mcp",
			version,
			mcpserver.WithToolCapabilities(false),
		),
	}

	var tokens platform.TokenSource
	switch cfg.Transport {
	case config.TransportStdio:
		creds, err := auth.NewCredentialsStore(cfg.CredentialsDir)
		if err != nil {
			return nil, err
		}
		authenticator := auth.NewAuthenticator(auth.Config{
			OAuthHost:    cfg.OAuthHost,
			ClientID:     cfg.ClientID,
			Scopes:       strings.Fields(cfg.Scope),
			AuthTimeout:  cfg.AuthTimeout,
			CallbackPort: cfg.CallbackPort,
		}, creds, logger)
		tokens = NewLocalSession(authenticator)

	case config.TransportHTTP:
		store, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.provider = oauth.NewProvider(store, oauth.UpstreamConfig{
			OAuthHost:   cfg.OAuthHost,
			ClientID:    cfg.ClientID,
			CallbackURL: strings.TrimSuffix(cfg.Issuer, "/") + "/oauth/callback",
			Scopes:      strings.Fields(cfg.Scope),
		}, logger)
		s.oauthHandler = oauth.NewHandler(s.provider, cfg.Issuer, logger)
		tokens = NewRemoteSession(s.provider)

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	api := platform.NewClient(cfg.APIURL, tokens, logger)
	tools.Register(s.mcp, &tools.Deps{
		API:    api,
		Tokens: tokens,
		Logger: logger,
	})

	return s, nil
}

// newStore picks the OAuth store backend: the platform database when a DSN
// is configured, process memory otherwise.
func newStore(ctx context.Context, cfg *config.Config) (oauth.Store, error) {
	if cfg.DatabaseDSN != "" {
		return oauth.NewSQLStore(ctx, cfg.DatabaseDSN)
	}
	return oauth.NewMemoryStore(), nil
}

// Run serves until ctx is cancelled or the transport shuts down.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case config.TransportStdio:
		s.logger.Info("starting MCP server", "transport", config.TransportStdio)
		return mcpserver.ServeStdio(s.mcp)
	case config.TransportHTTP:
		return s.runHTTP(ctx)
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Transport)
	}
}

func (s *Server) runHTTP(ctx context.Context) error {
	defer func() {
		if err := s.provider.Close(); err != nil {
			s.logger.Warn("failed to close oauth provider", "error", err.Error())
		}
	}()

	mux := http.NewServeMux()
	s.oauthHandler.Register(mux)

	streamable := mcpserver.NewStreamableHTTPServer(s.mcp)
	mux.Handle("/mcp", s.oauthHandler.Middleware(streamable))

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting MCP server",
			"transport", config.TransportHTTP,
			"addr", s.cfg.ListenAddr,
			"issuer", s.cfg.Issuer,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
