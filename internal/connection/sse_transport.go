package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpconnect/internal/config"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/jsonrpc"
	"mcpconnect/pkg/logging"
)

// IsSSEURL reports whether serverURL speaks the SSE transport: the path ends
// in /sse or /events.
func IsSSEURL(serverURL string) bool {
	u, err := url.Parse(serverURL)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(u.Path, "/")
	return strings.HasSuffix(path, "/sse") || strings.HasSuffix(path, "/events")
}

// SSETransport opens a short-lived mcp-go SSE client per operation. The
// client is always closed before the operation returns.
type SSETransport struct {
	httpClient  *http.Client
	toolTimeout time.Duration
	clientName  string
}

// NewSSETransport creates an SSE transport. toolTimeout <= 0 selects the
// default 60 seconds.
func NewSSETransport(hc *http.Client, toolTimeout time.Duration, clientName string) *SSETransport {
	if toolTimeout <= 0 {
		toolTimeout = config.DefaultSSEToolTimeout
	}
	return &SSETransport{httpClient: hc, toolTimeout: toolTimeout, clientName: clientName}
}

// open starts and initializes a client. The caller must Close it.
func (s *SSETransport) open(ctx context.Context, serverURL string, headers map[string]string) (*client.Client, *mcp.InitializeResult, error) {
	var opts []transport.ClientOption
	if len(headers) > 0 {
		opts = append(opts, client.WithHeaders(headers))
	}
	if s.httpClient != nil {
		opts = append(opts, client.WithHTTPClient(s.httpClient))
	}

	c, err := client.NewSSEMCPClient(serverURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating SSE client for %s: %w", serverURL, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, sseError("connect", serverURL, err)
	}

	initResult, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: jsonrpc.InitializeParams(s.clientName, config.ClientVersion),
	})
	if err != nil {
		_ = c.Close()
		return nil, nil, sseError(jsonrpc.MethodInitialize, serverURL, err)
	}
	logging.Debug("Transport", "SSE session with %s (%s %s)", serverURL, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return c, initResult, nil
}

// CallTool runs one tool call with the tool timeout applied.
func (s *SSETransport) CallTool(ctx context.Context, serverURL string, headers map[string]string, name string, args map[string]any) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	c, _, err := s.open(ctx, serverURL, headers)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logging.Debug("Transport", "Closing SSE client for %s: %v", serverURL, err)
		}
	}()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{Params: jsonrpc.CallToolParams(name, args)})
	if err != nil {
		return nil, sseError(jsonrpc.MethodToolsCall, serverURL, err)
	}
	return result, nil
}

// Fetch performs the capability round trip over SSE.
func (s *SSETransport) Fetch(ctx context.Context, serverURL string, headers map[string]string) (*liveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	start := time.Now()
	c, initResult, err := s.open(ctx, serverURL, headers)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logging.Debug("Transport", "Closing SSE client for %s: %v", serverURL, err)
		}
	}()

	out := &liveResult{Initialize: initResult}
	switch err := c.Ping(ctx); {
	case err == nil:
		out.PingSupported = true
	case errors.Is(err, mcp.ErrMethodNotFound):
	default:
		return nil, sseError(jsonrpc.MethodPing, serverURL, err)
	}
	out.Latency = time.Since(start)

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, sseError(jsonrpc.MethodToolsList, serverURL, err)
	}
	out.Tools = tools.Tools

	if initResult.Capabilities.Resources != nil {
		if res, err := c.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
			for _, r := range res.Resources {
				out.Resources = append(out.Resources, jsonrpc.Resource{
					URI:         r.URI,
					Name:        r.Name,
					Description: r.Description,
					MIMEType:    r.MIMEType,
				})
			}
			out.Resources = jsonrpc.FilterResources(out.Resources)
		} else {
			logging.Warn("Transport", "resources/list on %s failed: %v", serverURL, err)
		}
	}
	if initResult.Capabilities.Prompts != nil {
		if res, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{}); err == nil {
			out.Prompts = res.Prompts
		} else {
			logging.Warn("Transport", "prompts/list on %s failed: %v", serverURL, err)
		}
	}
	return out, nil
}

// sseError restores the typed errors the classifier understands from the
// flattened errors mcp-go returns.
func sseError(op, serverURL string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &errorhandling.NetworkError{Op: op, URL: serverURL, Err: err}
	}
	for _, m := range []struct {
		sentinel error
		code     int
	}{
		{mcp.ErrParseError, jsonrpc.CodeParseError},
		{mcp.ErrInvalidRequest, jsonrpc.CodeInvalidRequest},
		{mcp.ErrMethodNotFound, jsonrpc.CodeMethodNotFound},
		{mcp.ErrInvalidParams, jsonrpc.CodeInvalidParams},
		{mcp.ErrInternalError, jsonrpc.CodeInternalError},
	} {
		if errors.Is(err, m.sentinel) {
			return &jsonrpc.Error{Code: m.code, Message: err.Error()}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "status code: "); i >= 0 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[i+len("status code: "):])); convErr == nil {
			return &errorhandling.HTTPError{StatusCode: code, URL: serverURL}
		}
	}
	if strings.Contains(msg, "failed to connect") {
		return &errorhandling.NetworkError{Op: op, URL: serverURL, Err: err}
	}
	return fmt.Errorf("%s on %s: %w", op, serverURL, err)
}
