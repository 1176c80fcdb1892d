package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
	"mcpconnect/internal/formatting"
	"mcpconnect/internal/servers"
)

const authPollInterval = 2 * time.Second

func newAuthCmd(flags *commandFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize mcpconnect against protected MCP servers",
	}
	cmd.AddCommand(newAuthStatusCmd(flags), newAuthLoginCmd(flags), newAuthLogoutCmd(flags))
	return cmd
}

func newAuthStatusCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the authorization state of the user's servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				ctx := cmd.Context()
				s := a.Services()
				records, err := s.Servers.ListByUser(ctx, flags.User)
				if err != nil {
					return err
				}
				rows := make([]formatting.AuthRow, 0, len(records))
				for _, rec := range records {
					row := formatting.AuthRow{ServerID: rec.ID, Name: rec.Name, AuthStatus: rec.AuthStatus, ExpiresAt: rec.TokenExpiresAt}
					entry, err := s.OAuthCache.GetValidatedToken(ctx, rec.ID)
					if err != nil {
						return err
					}
					if entry != nil && rec.HasToken() && entry.AccessToken == rec.AccessToken {
						validated := entry.ValidatedAt
						row.ValidatedAt = &validated
					}
					rows = append(rows, row)
				}
				return p.AuthStatus(rows)
			})
		},
	}
}

func newAuthLoginCmd(flags *commandFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "login <server-id>",
		Short: "Start authorization and print the URL to open",
		Long: `Contacts the server and, when it answers 401, discovers its authorization
server and prints an authorization URL. The browser is redirected to the
configured redirect URI, so 'mcpconnect serve' must be reachable there and
share the cache backend with this command (valkey or sqlite) for the PKCE
state to be found.

With --wait the command polls the server record until the callback has
stored the tokens.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID := args[0]
			return runWithApp(flags, func(a *app.Application) error {
				s := a.Services()
				res := s.Manager.TestConnection(cmd.Context(), serverID, flags.User)
				out := cmd.OutOrStdout()
				switch {
				case res.Success:
					fmt.Fprintf(out, "Server %s is reachable with the current credentials.\n", serverID)
					return nil
				case !res.RequiresAuth:
					return fmt.Errorf("server %s: %s", serverID, res.Error)
				case res.AuthorizationURL == "":
					return &AuthRequiredError{ServerID: serverID}
				}

				fmt.Fprintf(out, "Open this URL to authorize %s:\n\n  %s\n\n", serverID, res.AuthorizationURL)
				if wait <= 0 {
					return nil
				}
				fmt.Fprintln(out, "Waiting for the authorization to complete...")
				if err := waitForAuthorization(cmd.Context(), s.Servers, serverID, wait); err != nil {
					return err
				}
				fmt.Fprintf(out, "Server %s authorized.\n", serverID)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the callback to complete")
	return cmd
}

func waitForAuthorization(ctx context.Context, store servers.Store, serverID string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(authPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &AuthRequiredError{ServerID: serverID}
		case <-ticker.C:
			rec, err := store.Get(ctx, serverID)
			if err != nil {
				continue
			}
			if rec.AuthStatus == servers.AuthStatusAuthorized && rec.HasToken() {
				return nil
			}
		}
	}
}

func newAuthLogoutCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <server-id>",
		Short: "Forget the stored tokens of a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(flags, func(a *app.Application) error {
				ctx := cmd.Context()
				s := a.Services()
				rec, err := ownedRecord(cmd, flags, s, args[0])
				if err != nil {
					return err
				}
				rec.ClearTokens()
				rec.AuthStatus = servers.AuthStatusUnauthenticated
				if err := s.Servers.Update(ctx, rec); err != nil {
					return err
				}
				if err := s.OAuthCache.InvalidateServer(ctx, rec.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", rec.ID)
				return nil
			})
		},
	}
}
