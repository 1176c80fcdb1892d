package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/toolexec"
)

func newCapabilitiesCmd(flags *commandFlags) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "capabilities <server-id>",
		Short: "Show a server's tools and capabilities, from cache when fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCapabilities(cmd, flags, args[0], refresh)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cache and fetch live")
	return cmd
}

func newTestCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "test <server-id>",
		Short: "Check a server live: ping, initialize and list tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCapabilities(cmd, flags, args[0], true)
		},
	}
}

func showCapabilities(cmd *cobra.Command, flags *commandFlags, serverID string, live bool) error {
	p, err := flags.printer(cmd)
	if err != nil {
		return err
	}
	return runWithApp(flags, func(a *app.Application) error {
		m := a.Services().Manager
		res := withSpinner(cmd, flags, "Contacting "+serverID+"...", func() *connection.CapabilitiesResult {
			if live {
				return m.TestConnection(cmd.Context(), serverID, flags.User)
			}
			return m.GetServerCapabilities(cmd.Context(), serverID, flags.User)
		})
		if err := p.Capabilities(res); err != nil {
			return err
		}
		switch {
		case res.RequiresAuth:
			return &AuthRequiredError{ServerID: serverID, AuthorizationURL: res.AuthorizationURL}
		case !res.Success:
			return fmt.Errorf("server %s: %s", serverID, res.Error)
		}
		return nil
	})
}

func newToolsCmd(flags *commandFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Discover tools across all enabled servers of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				type outcome struct {
					d   *toolexec.Discovery
					err error
				}
				o := withSpinner(cmd, flags, "Discovering tools...", func() outcome {
					d, err := a.Services().ToolExec.DiscoverTools(cmd.Context(), flags.User)
					return outcome{d, err}
				})
				if o.err != nil {
					return o.err
				}
				return p.Discovery(o.d)
			})
		},
	}
}

func newCallCmd(flags *commandFlags) *cobra.Command {
	var serverID, argsJSON string
	var argPairs []string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Execute a tool",
		Long: `Executes a tool with validation, error classification and retries.

Select the tool by its original name with --server, or by the normalized
name shown by 'mcpconnect tools'. Arguments come from --args as a JSON object
and from repeated --arg key=value flags; values that parse as JSON (numbers,
booleans, objects) are passed typed, anything else as a string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseToolArguments(argsJSON, argPairs)
			if err != nil {
				return err
			}
			p, err := flags.printer(cmd)
			if err != nil {
				return err
			}
			return runWithApp(flags, func(a *app.Application) error {
				svc := a.Services().ToolExec
				if serverID == "" {
					// Normalized names resolve through the catalog.
					if _, err := svc.DiscoverTools(cmd.Context(), flags.User); err != nil {
						return err
					}
				}
				res := withSpinner(cmd, flags, "Calling "+args[0]+"...", func() *toolexec.Result {
					return svc.ExecuteTool(cmd.Context(), toolexec.Request{
						UserID:    flags.User,
						ServerID:  serverID,
						ToolName:  args[0],
						Arguments: arguments,
					})
				})
				if err := p.ToolResult(res); err != nil {
					return err
				}
				switch {
				case res.Error != nil && res.Error.RequiresAuth:
					return &AuthRequiredError{ServerID: serverID, AuthorizationURL: res.AuthorizationURL}
				case !res.Success:
					return fmt.Errorf("tool %s failed", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "Server id hosting the tool")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "Tool argument as key=value (repeatable)")
	return cmd
}

// parseToolArguments merges a JSON object with key=value pairs. Pairs win.
func parseToolArguments(argsJSON string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q is not key=value", pair)
		}
		out[key] = argValue(raw)
	}
	return out, nil
}

func argValue(raw string) any {
	if _, err := strconv.ParseFloat(raw, 64); err == nil || raw == "true" || raw == "false" || raw == "null" ||
		strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			return v
		}
	}
	return raw
}
