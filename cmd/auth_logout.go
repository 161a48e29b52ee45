package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// authLogoutCmd represents the auth logout command.
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored authentication tokens",
	Long: `Clear the stored OAuth tokens.

This removes the cached credentials, requiring a new 's2mcp auth login'
before the stdio server can reach the platform again.`,
	RunE: runAuthLogout,
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	_, creds, _, err := authComponents()
	if err != nil {
		return err
	}

	if err := creds.Clear(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	authPrintln("Logged out.")
	return nil
}
