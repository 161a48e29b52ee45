package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"s2mcp/internal/auth"
)

// authStatusCmd represents the auth status command.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show the current authentication status.

This command displays whether credentials are stored, where, and when the
access token expires.`,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, creds, _, err := authComponents()
	if err != nil {
		return err
	}

	fmt.Printf("Endpoint:     %s\n", cfg.OAuthHost)
	fmt.Printf("Credentials:  %s\n", creds.Path())

	tokens, err := creds.Load()
	if errors.Is(err, auth.ErrNotAuthenticated) {
		fmt.Printf("Status:       %s\n", text.FgYellow.Sprint("Not authenticated"))
		fmt.Println("\nTo authenticate, run:")
		fmt.Println("  s2mcp auth login")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	if tokens.Valid() {
		fmt.Printf("Status:       %s\n", text.FgGreen.Sprint("Authenticated"))
	} else if tokens.RefreshToken != "" {
		fmt.Printf("Status:       %s\n", text.FgYellow.Sprint("Expired (will refresh on next use)"))
	} else {
		fmt.Printf("Status:       %s\n", text.FgRed.Sprint("Expired"))
	}

	if !tokens.ExpiresAt.IsZero() {
		fmt.Printf("Expires:      %s\n", formatExpiry(tokens.ExpiresAt))
	}
	if tokens.Scope != "" {
		fmt.Printf("Scope:        %s\n", tokens.Scope)
	}

	return nil
}

// formatExpiry renders an expiry time with its direction relative to now.
func formatExpiry(expiresAt time.Time) string {
	remaining := time.Until(expiresAt).Round(time.Second)
	stamp := expiresAt.Local().Format(time.RFC1123)
	if remaining < 0 {
		return fmt.Sprintf("%s (%s ago)", stamp, -remaining)
	}
	return fmt.Sprintf("%s (in %s)", stamp, remaining)
}
