package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authLoginCmd represents the auth login command.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to the SingleStore platform",
	Long: `Authenticate to the SingleStore platform using OAuth.

This command opens the browser for an authorization code flow with PKCE
and stores the resulting tokens for the stdio MCP server to use.`,
	RunE: runAuthLogin,
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, _, authenticator, err := authComponents()
	if err != nil {
		return err
	}

	authPrint("Authenticating to %s...\n", cfg.OAuthHost)

	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for authentication in the browser..."
		s.Start()
	}

	_, err = authenticator.Login(cmd.Context())
	if s != nil {
		s.Stop()
	}
	if err != nil {
		if !authQuiet {
			fmt.Println(text.FgRed.Sprint("Authentication failed"))
		}
		return err
	}

	authPrintln(text.FgGreen.Sprint("Authentication successful"))
	return nil
}
