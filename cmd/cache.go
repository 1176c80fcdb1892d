package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
	"mcpconnect/internal/cache"
)

func newCacheCmd(flags *commandFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the capability and token caches",
	}
	cmd.AddCommand(newCacheStatsCmd(flags), newCacheClearCmd(flags))
	return cmd
}

func newCacheStatsCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				s := a.Services()
				tools, err := s.ToolCache.GetCacheStats(cmd.Context())
				if err != nil {
					return err
				}
				tokens, err := s.OAuthCache.GetCacheStats(cmd.Context())
				if err != nil {
					return err
				}
				return p.CacheStats(map[string]cache.Stats{"tools": tools, "oauth": tokens})
			})
		},
	}
}

func newCacheClearCmd(flags *commandFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [server-id]",
		Short: "Invalidate cached entries for one server or, with --all, every server",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a server id or --all")
			}
			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(flags, func(a *app.Application) error {
				ctx := cmd.Context()
				s := a.Services()
				if all {
					tools, err := s.ToolCache.InvalidateAll(ctx)
					if err != nil {
						return err
					}
					tokens, err := s.OAuthCache.InvalidateAll(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d capability and %d token entries\n", tools, tokens)
					return nil
				}
				if err := s.Manager.InvalidateServerCache(ctx, args[0]); err != nil {
					return err
				}
				if err := s.OAuthCache.InvalidateServer(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invalidated cache for %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Invalidate every server")
	return cmd
}
