package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcpconnect/internal/connection"
	"mcpconnect/internal/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a server needs (re-)authorization.
	ExitCodeAuthRequired = 2
)

var version = "dev"

// SetVersion sets the version reported by `mcpconnect version`.
func SetVersion(v string) {
	version = v
}

// AuthRequiredError is returned by commands whose server answered that it
// needs authorization.
type AuthRequiredError struct {
	ServerID         string
	AuthorizationURL string
}

func (e *AuthRequiredError) Error() string {
	if e.AuthorizationURL == "" {
		return fmt.Sprintf("server %s requires authorization", e.ServerID)
	}
	return fmt.Sprintf("server %s requires authorization, open %s", e.ServerID, e.AuthorizationURL)
}

// newRootCmd builds the command tree. Each call returns an independent tree
// so tests do not share flag state.
func newRootCmd() *cobra.Command {
	flags := &commandFlags{}
	root := &cobra.Command{
		Use:   "mcpconnect",
		Short: "Discover, authorize and call tools on remote MCP servers",
		Long: `mcpconnect manages connections to remote MCP servers on behalf of users.

It discovers OAuth authorization servers, completes PKCE authorization,
keeps tokens fresh, caches server capabilities and executes tool calls with
classified retries. Run 'mcpconnect serve' for the HTTP API and OAuth
callback, or use the other commands directly against the local configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root)

	root.AddCommand(
		newServeCmd(flags),
		newServersCmd(flags),
		newCapabilitiesCmd(flags),
		newTestCmd(flags),
		newToolsCmd(flags),
		newCallCmd(flags),
		newCacheCmd(flags),
		newAuthCmd(flags),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits with a semantic exit code on failure.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var authRequired *AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}
	var connAuth *connection.AuthRequiredError
	if errors.As(err, &connAuth) {
		return ExitCodeAuthRequired
	}
	if errors.Is(err, oauth.ErrReauthRequired) {
		return ExitCodeAuthRequired
	}
	return ExitCodeError
}
