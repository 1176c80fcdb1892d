package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
	"mcpconnect/internal/servers"
)

func newServersCmd(flags *commandFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Short:   "Manage the MCP server registry",
	}
	cmd.AddCommand(
		newServersListCmd(flags),
		newServersAddCmd(flags),
		newServersRemoveCmd(flags),
		newServersToggleCmd(flags, "enable", true),
		newServersToggleCmd(flags, "disable", false),
	)
	return cmd
}

func newServersListCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the user's servers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				records, err := a.Services().Servers.ListByUser(cmd.Context(), flags.User)
				if err != nil {
					return err
				}
				return p.Servers(records)
			})
		},
	}
}

func newServersAddCmd(flags *commandFlags) *cobra.Command {
	var name, id string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register an MCP server for the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("server URL must be an absolute http(s) URL, got %q", args[0])
			}
			if id == "" {
				id = uuid.NewString()
			}
			if name == "" {
				name = u.Host
			}
			rec := &servers.Record{
				ID:         id,
				UserID:     flags.User,
				URL:        args[0],
				Name:       name,
				Enabled:    !disabled,
				AuthStatus: servers.AuthStatusUnauthenticated,
			}
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				if err := a.Services().Servers.Create(cmd.Context(), rec); err != nil {
					return err
				}
				return p.Servers([]*servers.Record{rec})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (default: the URL host)")
	cmd.Flags().StringVar(&id, "id", "", "Server id (default: a random UUID)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register the server disabled")
	return cmd
}

func newServersRemoveCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <server-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a server and its cached data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(flags, func(a *app.Application) error {
				ctx := cmd.Context()
				s := a.Services()
				if _, err := ownedRecord(cmd, flags, s, args[0]); err != nil {
					return err
				}
				if err := s.Servers.Delete(ctx, args[0]); err != nil {
					return err
				}
				if err := s.Manager.InvalidateServerCache(ctx, args[0]); err != nil {
					return err
				}
				if err := s.OAuthCache.InvalidateServer(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed server %s\n", args[0])
				return nil
			})
		},
	}
}

func newServersToggleCmd(flags *commandFlags, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <server-id>",
		Short: fmt.Sprintf("%s a server for discovery and tool calls", capitalizeVerb(verb)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(flags, func(a *app.Application) error {
				s := a.Services()
				rec, err := ownedRecord(cmd, flags, s, args[0])
				if err != nil {
					return err
				}
				rec.Enabled = enabled
				if err := s.Servers.Update(cmd.Context(), rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Server %s %sd\n", rec.ID, verb)
				return nil
			})
		},
	}
}

func capitalizeVerb(verb string) string {
	return strings.ToUpper(verb[:1]) + verb[1:]
}

// ownedRecord loads a record and hides records of other users.
func ownedRecord(cmd *cobra.Command, flags *commandFlags, s *app.Services, id string) (*servers.Record, error) {
	rec, err := s.Servers.Get(cmd.Context(), id)
	if errors.Is(err, servers.ErrNotFound) || (err == nil && rec.UserID != flags.User) {
		return nil, fmt.Errorf("server %s not found for user %s", id, flags.User)
	}
	return rec, err
}

// runWithApp opens the application, runs fn and closes it again.
func runWithApp(flags *commandFlags, fn func(a *app.Application) error) error {
	a, err := flags.openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
