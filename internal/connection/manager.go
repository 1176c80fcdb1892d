package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/catalog"
	"mcpconnect/internal/config"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/jsonrpc"
	"mcpconnect/internal/oauth"
	"mcpconnect/internal/servers"
	"mcpconnect/pkg/logging"
)

// AuthRequiredError means the server rejected or lacks credentials. The
// record has been flipped to authStatus required.
type AuthRequiredError struct {
	ServerID string
	// AuthorizationURL is empty when discovery failed.
	AuthorizationURL string
	Err              error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("server %s requires authorization: %v", e.ServerID, e.Err)
}

func (e *AuthRequiredError) Unwrap() error { return e.Err }

// AuthRequired marks the error for the classifier.
func (e *AuthRequiredError) AuthRequired() bool { return true }

// CapabilitiesResult is the outcome of a capability fetch. Failures are
// reported in the result, never as a Go error.
type CapabilitiesResult struct {
	ServerID         string                 `json:"serverId"`
	Success          bool                   `json:"success"`
	FromCache        bool                   `json:"fromCache"`
	Tools            []catalog.ToolMetadata `json:"tools,omitempty"`
	Capabilities     cache.Capabilities     `json:"capabilities"`
	ServerVersion    string                 `json:"serverVersion,omitempty"`
	Resources        []jsonrpc.Resource     `json:"resources,omitempty"`
	Prompts          []mcp.Prompt           `json:"prompts,omitempty"`
	Status           LiveStatus             `json:"status"`
	Error            string                 `json:"error,omitempty"`
	RequiresAuth     bool                   `json:"requiresAuth,omitempty"`
	AuthorizationURL string                 `json:"authorizationUrl,omitempty"`
	// Recommendation is set on failure.
	Recommendation *errorhandling.Recommendation `json:"recommendation,omitempty"`
}

// liveResult is a live capability round trip, independent of transport.
type liveResult struct {
	Initialize    *mcp.InitializeResult
	Tools         []mcp.Tool
	Resources     []jsonrpc.Resource
	Prompts       []mcp.Prompt
	PingSupported bool
	Latency       time.Duration
}

// Manager contacts MCP servers, caches their capabilities and dispatches tool
// calls over the transport each server speaks.
type Manager struct {
	cfg       config.Config
	servers   servers.Store
	tools     *cache.ToolCache
	tokens    *oauth.TokenManager
	discovery *oauth.Discoverer
	live      *LivenessTable
	http      *HTTPTransport
	sse       *SSETransport
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenManager enables token refresh before each connection.
func WithTokenManager(tm *oauth.TokenManager) Option {
	return func(m *Manager) { m.tokens = tm }
}

// WithDiscoverer enables authorization URL discovery on 401.
func WithDiscoverer(d *oauth.Discoverer) Option {
	return func(m *Manager) { m.discovery = d }
}

// WithLivenessTable shares a liveness table between managers.
func WithLivenessTable(t *LivenessTable) Option {
	return func(m *Manager) { m.live = t }
}

// WithHTTPClient sets the client used by both transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) {
		m.http = NewHTTPTransport(hc, m.cfg.Connection)
		m.sse = NewSSETransport(hc, m.cfg.Connection.SSEToolTimeout, m.cfg.OAuth.ClientName)
	}
}

// WithClock overrides the time source for liveness timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(cfg config.Config, store servers.Store, toolCache *cache.ToolCache, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		servers: store,
		tools:   toolCache,
		http:    NewHTTPTransport(nil, cfg.Connection),
		sse:     NewSSETransport(nil, cfg.Connection.SSEToolTimeout, cfg.OAuth.ClientName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.live == nil {
		m.live = NewLivenessTable(m.now)
	}
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// Liveness returns the process-local liveness table.
func (m *Manager) Liveness() *LivenessTable {
	return m.live
}

// GetServerCapabilities returns the tools and capabilities of a server. A
// fresh cache entry is returned without touching the network.
func (m *Manager) GetServerCapabilities(ctx context.Context, serverID, userID string) *CapabilitiesResult {
	if entry, ok := m.tools.Lookup(ctx, serverID, ""); ok {
		m.live.MarkConnected(serverID, entry.CachedAt, nil, 0)
		return &CapabilitiesResult{
			ServerID:      serverID,
			Success:       true,
			FromCache:     true,
			Tools:         entry.Tools,
			Capabilities:  entry.Capabilities,
			ServerVersion: entry.ServerVersion,
			Status:        m.live.Get(serverID),
		}
	}
	return m.fetchLive(ctx, serverID, userID)
}

// TestConnection always contacts the server, bypassing and refreshing the
// capability cache.
func (m *Manager) TestConnection(ctx context.Context, serverID, userID string) *CapabilitiesResult {
	return m.fetchLive(ctx, serverID, userID)
}

func (m *Manager) fetchLive(ctx context.Context, serverID, userID string) *CapabilitiesResult {
	result := &CapabilitiesResult{ServerID: serverID}
	m.live.MarkTesting(serverID)

	live, rec, err := m.testLiveConnection(ctx, serverID, userID)
	if err != nil {
		m.fail(result, err)
		return result
	}

	tools := make([]catalog.ToolMetadata, 0, len(live.Tools))
	for _, t := range live.Tools {
		tools = append(tools, catalog.FromMCPTool(rec.ID, rec.Name, t))
	}
	caps := capabilitiesOf(live.Initialize)
	version := live.Initialize.ServerInfo.Version
	now := m.now()

	err = m.tools.Set(ctx, serverID, &cache.CapabilityEntry{
		Tools:         tools,
		Capabilities:  caps,
		CachedAt:      now,
		ServerVersion: version,
		ServerURL:     rec.URL,
	})
	if err != nil {
		logging.Warn("ConnectionManager", "Failed to cache capabilities for server %s: %v", serverID, err)
	}

	pingSupported := live.PingSupported
	m.live.MarkConnected(serverID, now, &pingSupported, live.Latency)
	logging.Info("ConnectionManager", "Server %s connected: %d tools (ping=%t, %s)", serverID, len(tools), pingSupported, live.Latency.Round(time.Millisecond))

	result.Success = true
	result.Tools = tools
	result.Capabilities = caps
	result.ServerVersion = version
	result.Resources = live.Resources
	result.Prompts = live.Prompts
	result.Status = m.live.Get(serverID)
	return result
}

func (m *Manager) fail(result *CapabilitiesResult, err error) {
	ec := errorhandling.ErrorContext{Operation: "capability fetch", ServerID: result.ServerID}
	verdict := errorhandling.HandleError(err, ec)
	recommendation := errorhandling.GetErrorRecoveryRecommendation(verdict, ec)
	m.live.MarkDisconnected(result.ServerID, err.Error())
	logging.Warn("ConnectionManager", "Server %s unreachable: %v", result.ServerID, err)

	result.Success = false
	result.Error = verdict.UserMessage
	result.RequiresAuth = verdict.RequiresAuth
	result.Recommendation = &recommendation
	var authErr *AuthRequiredError
	if errors.As(err, &authErr) {
		result.AuthorizationURL = authErr.AuthorizationURL
	}
	result.Status = m.live.Get(result.ServerID)
}

// testLiveConnection resolves credentials and runs the capability round trip
// on the server's transport.
func (m *Manager) testLiveConnection(ctx context.Context, serverID, userID string) (*liveResult, *servers.Record, error) {
	rec, err := m.loadRecord(ctx, serverID, userID)
	if err != nil {
		return nil, nil, err
	}
	// SSE endpoints do not answer a plain POST, so validation would be noise.
	headers, rec, err := m.authHeaders(ctx, rec, userID, !IsSSEURL(rec.URL))
	if err != nil {
		return nil, nil, err
	}

	live, err := m.fetch(ctx, rec, headers)
	if fresh, ok := m.refreshOn401(ctx, rec, userID, err); ok {
		live, err = m.fetch(ctx, rec, fresh)
	}
	if err != nil {
		return nil, nil, m.checkAuth(ctx, rec, userID, err)
	}
	return live, rec, nil
}

func (m *Manager) fetch(ctx context.Context, rec *servers.Record, headers map[string]string) (*liveResult, error) {
	if IsSSEURL(rec.URL) {
		return m.sse.Fetch(ctx, rec.URL, headers)
	}
	return m.withSession(ctx, rec.URL, headers, func() (*liveResult, error) {
		return m.fetchHTTP(ctx, rec.ID, rec.URL, headers)
	})
}

// fetchHTTP tries ping first unless the server is known not to support it,
// then initializes and lists tools, resources and prompts. A ping refused for
// lack of a live session is sent again once initialize has opened one.
func (m *Manager) fetchHTTP(ctx context.Context, serverID, serverURL string, headers map[string]string) (*liveResult, error) {
	out := &liveResult{}
	start := time.Now()

	pingAfterInit := false
	if supported, known := m.live.PingSupported(serverID); !known || supported {
		err := m.ping(ctx, serverID, serverURL, headers, out)
		var netErr *errorhandling.NetworkError
		switch {
		case errors.Is(err, ErrSessionRequired), errors.Is(err, ErrSessionExpired):
			pingAfterInit = true
		case errorhandling.Is401Error(err), errors.As(err, &netErr):
			return nil, err
		case err != nil:
			logging.Debug("ConnectionManager", "Ping to server %s unusable, initializing: %v", serverID, err)
		}
	}

	initResult, err := m.initialize(ctx, serverURL, headers)
	if err != nil {
		return nil, err
	}
	out.Initialize = initResult
	out.Latency = time.Since(start)

	if pingAfterInit {
		if err := m.ping(ctx, serverID, serverURL, headers, out); err != nil {
			logging.Debug("ConnectionManager", "Ping to server %s failed after initialize: %v", serverID, err)
		}
	}

	if out.Tools, err = m.listTools(ctx, serverURL, headers); err != nil {
		return nil, err
	}

	if initResult.Capabilities.Resources != nil {
		resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodResourcesList, nil)
		if err == nil {
			var res *jsonrpc.ResourcesListResult
			if res, err = jsonrpc.DecodeResources(resp); err == nil {
				out.Resources = res.Resources
			}
		}
		if err != nil {
			logging.Warn("ConnectionManager", "resources/list on server %s failed: %v", serverID, err)
		}
	}
	if initResult.Capabilities.Prompts != nil {
		resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodPromptsList, nil)
		if err == nil {
			var res *jsonrpc.PromptsListResult
			if res, err = jsonrpc.Decode[jsonrpc.PromptsListResult](resp); err == nil {
				out.Prompts = res.Prompts
			}
		}
		if err != nil {
			logging.Warn("ConnectionManager", "prompts/list on server %s failed: %v", serverID, err)
		}
	}
	return out, nil
}

// ping records in out whether serverID answers ping. "Method not found" is
// an answer, not an error.
func (m *Manager) ping(ctx context.Context, serverID, serverURL string, headers map[string]string, out *liveResult) error {
	resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodPing, nil)
	if err != nil {
		return err
	}
	var rpcErr *jsonrpc.Error
	switch err := resp.Err(); {
	case err == nil:
		out.PingSupported = true
		return nil
	case errors.As(err, &rpcErr) && rpcErr.Code == jsonrpc.CodeMethodNotFound:
		logging.Debug("ConnectionManager", "Server %s does not support ping", serverID)
		return nil
	default:
		return err
	}
}

// initialize performs the handshake and sends notifications/initialized.
func (m *Manager) initialize(ctx context.Context, serverURL string, headers map[string]string) (*mcp.InitializeResult, error) {
	resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodInitialize,
		jsonrpc.InitializeParams(m.cfg.OAuth.ClientName, config.ClientVersion))
	if err != nil {
		return nil, err
	}
	result, err := jsonrpc.Decode[jsonrpc.InitializeResult](resp)
	if err != nil {
		return nil, err
	}
	if err := m.http.Notify(ctx, serverURL, headers, jsonrpc.MethodInitialized); err != nil {
		logging.Debug("ConnectionManager", "%s notification to %s failed: %v", jsonrpc.MethodInitialized, serverURL, err)
	}
	return result, nil
}

func (m *Manager) listTools(ctx context.Context, serverURL string, headers map[string]string) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodToolsList, params)
		if err != nil {
			return nil, err
		}
		page, err := jsonrpc.Decode[jsonrpc.ToolsListResult](resp)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || string(page.NextCursor) == cursor {
			return tools, nil
		}
		cursor = string(page.NextCursor)
	}
}

// withSession runs fn and, if the server dropped the session, runs it once
// more on a fresh one.
func (m *Manager) withSession(ctx context.Context, serverURL string, headers map[string]string, fn func() (*liveResult, error)) (*liveResult, error) {
	out, err := fn()
	if errors.Is(err, ErrSessionExpired) {
		logging.Debug("ConnectionManager", "Reinitializing session with %s", serverURL)
		out, err = fn()
	}
	return out, err
}

// ExecuteToolCall calls toolName on a server. Errors are typed for the
// classifier; a 401 comes back as *AuthRequiredError.
func (m *Manager) ExecuteToolCall(ctx context.Context, serverID, userID, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	rec, err := m.loadRecord(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}
	headers, rec, err := m.authHeaders(ctx, rec, userID, false)
	if err != nil {
		return nil, err
	}

	result, err := m.callTool(ctx, rec, headers, toolName, args)
	if fresh, ok := m.refreshOn401(ctx, rec, userID, err); ok {
		result, err = m.callTool(ctx, rec, fresh, toolName, args)
	}
	if err != nil {
		err = m.checkAuth(ctx, rec, userID, err)
		var netErr *errorhandling.NetworkError
		if errors.As(err, &netErr) {
			m.live.MarkDisconnected(serverID, err.Error())
		}
		return nil, err
	}
	m.live.MarkConnected(serverID, m.now(), nil, 0)
	return result, nil
}

func (m *Manager) callTool(ctx context.Context, rec *servers.Record, headers map[string]string, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	if IsSSEURL(rec.URL) {
		return m.sse.CallTool(ctx, rec.URL, headers, toolName, args)
	}
	return m.callToolHTTP(ctx, rec.URL, headers, toolName, args)
}

// callToolHTTP sends tools/call and, when the server has no session for us
// or dropped it, initializes and sends it once more.
func (m *Manager) callToolHTTP(ctx context.Context, serverURL string, headers map[string]string, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	params := jsonrpc.CallToolParams(toolName, args)
	resp, err := m.http.Call(ctx, serverURL, headers, jsonrpc.MethodToolsCall, params)
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionRequired) {
		if _, err = m.initialize(ctx, serverURL, headers); err != nil {
			return nil, err
		}
		resp, err = m.http.Call(ctx, serverURL, headers, jsonrpc.MethodToolsCall, params)
	}
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeCallToolResult(resp)
}

// InvalidateServerCache drops the cached capabilities of a server.
func (m *Manager) InvalidateServerCache(ctx context.Context, serverID string) error {
	return m.tools.InvalidateServer(ctx, serverID)
}

// GetCacheStats reports the capability cache contents.
func (m *Manager) GetCacheStats(ctx context.Context) (cache.Stats, error) {
	return m.tools.GetCacheStats(ctx)
}

func (m *Manager) loadRecord(ctx context.Context, serverID, userID string) (*servers.Record, error) {
	rec, err := m.servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("loading server %s: %w", serverID, err)
	}
	if userID != "" && rec.UserID != userID {
		return nil, fmt.Errorf("loading server %s: %w", serverID, servers.ErrNotFound)
	}
	return rec, nil
}

// authHeaders returns the headers to send to rec. Records without a token
// are contacted anonymously; the server answers 401 if it needs one. With
// validate the token is checked live unless the OAuth cache vouches for it.
func (m *Manager) authHeaders(ctx context.Context, rec *servers.Record, userID string, validate bool) (map[string]string, *servers.Record, error) {
	if !rec.HasToken() {
		return nil, rec, nil
	}
	if m.tokens == nil {
		return map[string]string{"Authorization": "Bearer " + rec.AccessToken}, rec, nil
	}
	fresh, err := m.tokens.EnsureFreshToken(ctx, rec, userID, oauth.EnsureOptions{
		PreemptiveWindow: m.cfg.OAuth.PreemptiveRefresh,
		Validate:         validate,
	})
	if errors.Is(err, oauth.ErrReauthRequired) {
		return nil, nil, m.authRequired(ctx, rec, userID, "", err)
	}
	if err != nil {
		return nil, nil, err
	}
	return fresh.Headers, fresh.Record, nil
}

// refreshOn401 refreshes rec's token once when err is a 401 and a refresh
// token is stored. ok reports whether the call should be retried with headers.
func (m *Manager) refreshOn401(ctx context.Context, rec *servers.Record, userID string, err error) (headers map[string]string, ok bool) {
	if err == nil || m.tokens == nil || rec.RefreshToken == "" || !errorhandling.Is401Error(err) {
		return nil, false
	}
	var authErr *AuthRequiredError
	if errors.As(err, &authErr) {
		return nil, false
	}
	logging.Info("ConnectionManager", "Server %s rejected the stored token, refreshing", rec.ID)
	token, rerr := m.tokens.Refresh(ctx, rec.URL, rec.RefreshToken, rec.ID, userID, rec.ClientID)
	if rerr != nil {
		logging.Warn("ConnectionManager", "Refreshing token for server %s failed: %v", rec.ID, rerr)
		return nil, false
	}
	return map[string]string{"Authorization": "Bearer " + token.AccessToken}, true
}

// checkAuth turns a 401 into an *AuthRequiredError carrying a fresh
// authorization URL. Other errors pass through.
func (m *Manager) checkAuth(ctx context.Context, rec *servers.Record, userID string, err error) error {
	var httpErr *errorhandling.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		return err
	}
	return m.authRequired(ctx, rec, userID, httpErr.WWWAuthenticate, err)
}

func (m *Manager) authRequired(ctx context.Context, rec *servers.Record, userID, wwwAuthenticate string, cause error) *AuthRequiredError {
	out := &AuthRequiredError{ServerID: rec.ID, Err: cause}
	if m.discovery != nil {
		authURL, err := m.discovery.DiscoverAuthorizationURL(ctx, wwwAuthenticate, rec.URL,
			oauth.DiscoveryOptions{ServerID: rec.ID, UserID: userID})
		if err != nil {
			logging.Warn("ConnectionManager", "Authorization discovery for server %s failed: %v", rec.ID, err)
		}
		out.AuthorizationURL = authURL
	}

	stored, err := m.servers.Get(ctx, rec.ID)
	if err != nil {
		logging.Warn("ConnectionManager", "Reloading server %s: %v", rec.ID, err)
		return out
	}
	if stored.AuthStatus != servers.AuthStatusRequired {
		stored.AuthStatus = servers.AuthStatusRequired
		if err := m.servers.Update(ctx, stored); err != nil {
			logging.Warn("ConnectionManager", "Marking server %s as requiring auth: %v", rec.ID, err)
		}
	}
	return out
}

func capabilitiesOf(init *mcp.InitializeResult) cache.Capabilities {
	caps := init.Capabilities
	out := cache.Capabilities{
		Tools:     caps.Tools != nil,
		Resources: caps.Resources != nil,
		Prompts:   caps.Prompts != nil,
	}
	if caps.Tools != nil {
		out.RootListChanged = caps.Tools.ListChanged
	}
	return out
}
