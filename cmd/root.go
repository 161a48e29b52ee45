package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"s2mcp/internal/auth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// rootCmd represents the base command for the s2mcp application.
var rootCmd = &cobra.Command{
	Use:   "s2mcp",
	Short: "MCP server for the SingleStore platform",
	Long: `s2mcp exposes SingleStore management and SQL capabilities as MCP tools.

It runs locally over stdio with a browser-based login, or remotely over
streamable HTTP where it acts as an OAuth provider for MCP clients.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "s2mcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code based on the error type. This gives
// scripts semantic exit codes for auth failures.
func getExitCode(err error) int {
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return ExitCodeAuthRequired
	}

	var denied *auth.AuthorizationDeniedError
	if errors.As(err, &denied) {
		return ExitCodeAuthFailed
	}

	var mismatch *auth.StateMismatchError
	if errors.As(err, &mismatch) {
		return ExitCodeAuthFailed
	}

	var exchange *auth.TokenExchangeError
	if errors.As(err, &exchange) {
		return ExitCodeAuthFailed
	}

	var timeout *auth.CallbackTimeoutError
	if errors.As(err, &timeout) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
