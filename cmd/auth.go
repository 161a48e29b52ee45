package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"s2mcp/internal/auth"
	"s2mcp/internal/config"
)

var (
	authConfigPath string
	authQuiet      bool
)

// authCmd represents the auth command group.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication for s2mcp",
	Long: `Manage authentication for the local s2mcp deployment.

The auth command group provides subcommands to login via the browser,
check the stored credentials, and log out.

Examples:
  s2mcp auth login      # Authenticate via the browser
  s2mcp auth status     # Show authentication status
  s2mcp auth logout     # Clear stored credentials`,
}

// authPrint prints output only if the --quiet flag is not set.
func authPrint(format string, args ...interface{}) {
	if !authQuiet {
		fmt.Printf(format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(a ...interface{}) {
	if !authQuiet {
		fmt.Println(a...)
	}
}

// authComponents loads the configuration and builds the credentials store
// and authenticator the auth subcommands share.
func authComponents() (*config.Config, *auth.CredentialsStore, *auth.Authenticator, error) {
	cfg, err := config.Load(authConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	creds, err := auth.NewCredentialsStore(cfg.CredentialsDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize credentials store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	authenticator := auth.NewAuthenticator(auth.Config{
		OAuthHost:    cfg.OAuthHost,
		ClientID:     cfg.ClientID,
		Scopes:       strings.Fields(cfg.Scope),
		AuthTimeout:  cfg.AuthTimeout,
		CallbackPort: cfg.CallbackPort,
	}, creds, logger)

	return cfg, creds, authenticator, nil
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authCmd.PersistentFlags().StringVar(&authConfigPath, "config", "", "Path to the configuration file")
	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")
}
