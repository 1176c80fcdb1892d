package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
)

func newServeCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and OAuth callback endpoint",
		Long: `Starts the HTTP API on api.listenAddress.

The OAuth redirect URI configured for the current environment must point at
this process: authorization servers send the browser back to /oauth/callback,
which completes the PKCE code exchange and stores the tokens on the server
record. Under systemd (Type=notify) readiness and shutdown are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.NewConfig(flags.Debug, flags.Quiet, flags.ConfigPath)
			cfg.Server = true
			application, err := app.NewApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer application.Close()
			return application.Serve(cmd.Context())
		},
	}
}
