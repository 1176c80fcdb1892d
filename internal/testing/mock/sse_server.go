package mock

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewSSEServer starts an mcp-go SSE server exposing an "echo" tool that
// returns its "message" argument. The returned URL ends in /sse.
func NewSSEServer(t testing.TB, name string) string {
	t.Helper()

	mcpServer := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	mcpServer.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo a message back"),
			mcp.WithString("message", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			msg, err := req.RequireString("message")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(msg), nil
		},
	)

	ts := server.NewTestServer(mcpServer)
	t.Cleanup(ts.Close)
	return ts.URL + "/sse"
}
