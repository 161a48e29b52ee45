package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"s2mcp/internal/config"
	"s2mcp/internal/server"
)

var (
	serveTransport  string
	serveListenAddr string
	serveConfigPath string
	serveDebug      bool
)

// serveCmd starts the MCP server over the configured transport.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server.

In stdio mode (default), the server speaks MCP on stdin/stdout and
authenticates with the credentials stored by 's2mcp auth login'.

In streamable-http mode, the server listens on --listen-addr and acts as
an OAuth provider: MCP clients register dynamically, authenticate through
the SingleStore identity service, and present bearer tokens on /mcp.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveTransport != "" {
		cfg.Transport = serveTransport
	}
	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if serveDebug {
		level = slog.LevelDebug
	}
	// stdout carries the MCP protocol in stdio mode, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, GetVersion(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	return srv.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Transport to serve on: stdio or streamable-http")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen-addr", "", "Listen address for streamable-http mode")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the configuration file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
