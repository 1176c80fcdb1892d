package connection

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/catalog"
	"mcpconnect/internal/config"
	"mcpconnect/internal/errorhandling"
	"mcpconnect/internal/jsonrpc"
	"mcpconnect/internal/kvstore"
	"mcpconnect/internal/oauth"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/testing/mock"
	pkgoauth "mcpconnect/pkg/oauth"
)

type fixture struct {
	cfg     config.Config
	clock   *mock.Clock
	servers servers.Store
	tools   *cache.ToolCache
	manager *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := mock.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory(kvstore.WithClock(clock.Now))
	t.Cleanup(func() { _ = kv.Close() })

	records, err := servers.NewFileStore(filepath.Join(t.TempDir(), "servers.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	cfg := config.GetDefaultConfig()
	toolCache := cache.NewToolCache(kv, 0, cache.WithToolsClock(clock.Now))

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		cfg:     cfg,
		clock:   clock,
		servers: records,
		tools:   toolCache,
		manager: NewManager(cfg, records, toolCache, opts...),
	}
}

func (f *fixture) addServer(t *testing.T, id, url string) *servers.Record {
	t.Helper()
	rec := &servers.Record{
		ID:         id,
		UserID:     "user-1",
		URL:        url,
		Name:       id,
		Enabled:    true,
		AuthStatus: servers.AuthStatusUnauthenticated,
	}
	require.NoError(t, f.servers.Create(context.Background(), rec))
	return rec
}

var searchTool = mcp.NewTool("search",
	mcp.WithDescription("Search documents"),
	mcp.WithString("query", mcp.Required()),
)

func TestGetServerCapabilities_LiveFetchWithoutPing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Version: "2.1.0", Tools: []mcp.Tool{searchTool}})
	f.addServer(t, "docs", srv.URL())

	result := f.manager.GetServerCapabilities(ctx, "docs", "user-1")

	require.True(t, result.Success, result.Error)
	assert.False(t, result.FromCache)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "search", result.Tools[0].Name)
	assert.Equal(t, "docs", result.Tools[0].ServerID)
	assert.Equal(t, "2.1.0", result.ServerVersion)
	assert.True(t, result.Capabilities.Tools)
	assert.True(t, result.Capabilities.RootListChanged)

	assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodPing))
	assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodInitialize))
	assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodToolsList))

	entry, err := f.tools.Get(ctx, "docs")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, f.clock.Now().Equal(entry.CachedAt))
	assert.Equal(t, srv.URL(), entry.ServerURL)

	status := f.manager.Liveness().Get("docs")
	assert.Equal(t, StatusConnected, status.Status)
	require.NotNil(t, status.PingSupported)
	assert.False(t, *status.PingSupported)
	require.NotNil(t, status.LastSuccess)
}

func TestGetServerCapabilities_CacheHitMakesNoRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Tools: []mcp.Tool{searchTool}})
	f.addServer(t, "docs", srv.URL())

	require.NoError(t, f.tools.Set(ctx, "docs", &cache.CapabilityEntry{
		Tools:        []catalog.ToolMetadata{catalog.FromMCPTool("docs", "docs", searchTool)},
		Capabilities: cache.Capabilities{Tools: true},
		CachedAt:     f.clock.Now(),
		ServerURL:    srv.URL(),
	}))

	result := f.manager.GetServerCapabilities(ctx, "docs", "user-1")

	require.True(t, result.Success)
	assert.True(t, result.FromCache)
	assert.Len(t, result.Tools, 1)
	assert.Empty(t, srv.Requests())
	assert.Equal(t, StatusConnected, result.Status.Status)
	require.NotNil(t, result.Status.LastSuccess)
	assert.True(t, f.clock.Now().Equal(*result.Status.LastSuccess))
}

func TestGetServerCapabilities_ExpiredCacheRefetches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Tools: []mcp.Tool{searchTool}})
	f.addServer(t, "docs", srv.URL())

	first := f.manager.GetServerCapabilities(ctx, "docs", "user-1")
	require.True(t, first.Success)

	f.clock.Advance(f.tools.TTL() + time.Second)
	second := f.manager.GetServerCapabilities(ctx, "docs", "user-1")
	require.True(t, second.Success)
	assert.False(t, second.FromCache)
	assert.Equal(t, 2, srv.MethodCount(jsonrpc.MethodInitialize))
}

func TestTestConnection_RemembersPingSupport(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported ping is skipped next time", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{})
		f.addServer(t, "s", srv.URL())

		require.True(t, f.manager.TestConnection(ctx, "s", "user-1").Success)
		require.True(t, f.manager.TestConnection(ctx, "s", "user-1").Success)
		assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodPing))
		assert.Equal(t, 2, srv.MethodCount(jsonrpc.MethodInitialize))
	})

	t.Run("supported ping", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{PingSupported: true})
		f.addServer(t, "s", srv.URL())

		result := f.manager.TestConnection(ctx, "s", "user-1")
		require.True(t, result.Success)
		require.NotNil(t, result.Status.PingSupported)
		assert.True(t, *result.Status.PingSupported)
	})
}

func TestGetServerCapabilities_FiltersResources(t *testing.T) {
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{
		Resources: []map[string]any{
			{"uri": "file:///a.txt", "name": "a", "createdAt": "yesterday-ish"},
			{"name": "no uri"},
		},
		Prompts: []mcp.Prompt{{Name: "summarize"}},
	})
	f.addServer(t, "s", srv.URL())

	result := f.manager.GetServerCapabilities(context.Background(), "s", "user-1")

	require.True(t, result.Success)
	assert.Equal(t, []jsonrpc.Resource{{URI: "file:///a.txt", Name: "a"}}, result.Resources)
	require.Len(t, result.Prompts, 1)
	assert.Equal(t, "summarize", result.Prompts[0].Name)
}

func TestGetServerCapabilities_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unreachable server", func(t *testing.T) {
		f := newFixture(t)
		f.addServer(t, "gone", "http://127.0.0.1:1/mcp")

		result := f.manager.GetServerCapabilities(ctx, "gone", "user-1")

		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
		assert.False(t, result.RequiresAuth)
		assert.Equal(t, StatusDisconnected, result.Status.Status)
		assert.NotEmpty(t, result.Status.Error)
		require.NotNil(t, result.Recommendation)
		assert.Equal(t, errorhandling.ActionRetry, result.Recommendation.Action)
	})

	t.Run("server of another user", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{})
		f.addServer(t, "s", srv.URL())

		result := f.manager.GetServerCapabilities(ctx, "s", "someone-else")

		assert.False(t, result.Success)
		assert.Empty(t, srv.Requests())
	})
}

func TestGetServerCapabilities_AuthRequired(t *testing.T) {
	ctx := context.Background()
	as := mock.NewOAuthServer(t, mock.OAuthServerConfig{})
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "secret", AuthorizationServer: as.URL()})

	clock := mock.NewClock(time.Time{})
	kv := kvstore.NewMemory(kvstore.WithClock(clock.Now))
	t.Cleanup(func() { _ = kv.Close() })
	pkce := oauth.NewPKCEStore(kv, 0, oauth.WithPKCEClock(clock.Now))
	discovery := oauth.NewDiscoverer(config.GetDefaultConfig(), pkgoauth.NewClient(), pkce)

	f := newFixture(t, WithDiscoverer(discovery))
	f.addServer(t, "locked", srv.URL())

	result := f.manager.GetServerCapabilities(ctx, "locked", "user-1")

	assert.False(t, result.Success)
	assert.True(t, result.RequiresAuth)
	assert.True(t, strings.HasPrefix(result.AuthorizationURL, as.URL()+"/authorize?"), result.AuthorizationURL)
	assert.Equal(t, StatusDisconnected, result.Status.Status)
	require.NotNil(t, result.Recommendation)
	assert.Equal(t, errorhandling.ActionReauthenticate, result.Recommendation.Action)

	rec, err := f.servers.Get(ctx, "locked")
	require.NoError(t, err)
	assert.Equal(t, servers.AuthStatusRequired, rec.AuthStatus)
}

func TestExecuteToolCall_AcceptFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("wildcard on second attempt", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{Accept: mock.AcceptWildcardOnly})
		f.addServer(t, "picky", srv.URL())

		result, err := f.manager.ExecuteToolCall(ctx, "picky", "user-1", "search", map[string]any{"query": "go"})

		require.NoError(t, err)
		require.Len(t, result.Content, 1)
		assert.Equal(t, "called search", mcp.GetTextFromContent(result.Content[0]))

		reqs := srv.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, 406, reqs[0].Status)
		assert.Equal(t, "application/json, text/event-stream", reqs[0].Accept)
		assert.Equal(t, 200, reqs[1].Status)
		assert.Equal(t, "*/*", reqs[1].Accept)

		_, err = f.manager.ExecuteToolCall(ctx, "picky", "user-1", "search", nil)
		require.NoError(t, err)
		assert.Len(t, srv.Requests(), 3, "accepted variant is reused")
	})

	t.Run("no accept header on third attempt", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{Accept: mock.AcceptNoneOnly})
		f.addServer(t, "pickier", srv.URL())

		_, err := f.manager.ExecuteToolCall(ctx, "pickier", "user-1", "search", nil)

		require.NoError(t, err)
		reqs := srv.Requests()
		require.Len(t, reqs, 3)
		assert.Empty(t, reqs[2].Accept)
	})
}

func TestExecuteToolCall_EventStreamResponse(t *testing.T) {
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{EventStream: true})
	f.addServer(t, "stream", srv.URL())

	result, err := f.manager.ExecuteToolCall(context.Background(), "stream", "user-1", "lookup", nil)

	require.NoError(t, err)
	assert.Equal(t, "called lookup", mcp.GetTextFromContent(result.Content[0]))
}

func TestExecuteToolCall_SessionReinitialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Sessions: true})
	f.addServer(t, "sess", srv.URL())

	require.True(t, f.manager.TestConnection(ctx, "sess", "user-1").Success)
	firstSession := f.manager.http.Session(srv.URL())
	require.NotEmpty(t, firstSession)

	srv.ExpireSessions()
	_, err := f.manager.ExecuteToolCall(ctx, "sess", "user-1", "search", nil)
	require.NoError(t, err)

	secondSession := f.manager.http.Session(srv.URL())
	assert.NotEmpty(t, secondSession)
	assert.NotEqual(t, firstSession, secondSession)

	var calls []mock.RecordedRequest
	for _, r := range srv.Requests() {
		if r.Method == jsonrpc.MethodToolsCall {
			calls = append(calls, r)
		}
	}
	require.Len(t, calls, 2)
	assert.Equal(t, 404, calls[0].Status)
	assert.Equal(t, 200, calls[1].Status)
	assert.Equal(t, secondSession, calls[1].SessionID)
}

func TestSessionRequiredServer_ColdStart(t *testing.T) {
	ctx := context.Background()

	t.Run("capability fetch initializes before ping", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{RequireSession: true, PingSupported: true, Tools: []mcp.Tool{searchTool}})
		f.addServer(t, "strict", srv.URL())

		result := f.manager.GetServerCapabilities(ctx, "strict", "user-1")

		require.True(t, result.Success, result.Error)
		require.Len(t, result.Tools, 1)
		assert.Equal(t, StatusConnected, result.Status.Status)
		assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodInitialize))

		var pings []mock.RecordedRequest
		for _, r := range srv.Requests() {
			if r.Method == jsonrpc.MethodPing {
				pings = append(pings, r)
			}
		}
		require.Len(t, pings, 2)
		assert.Equal(t, 400, pings[0].Status)
		assert.Empty(t, pings[0].SessionID)
		assert.Equal(t, 200, pings[1].Status)
		assert.NotEmpty(t, pings[1].SessionID)
		require.NotNil(t, result.Status.PingSupported)
		assert.True(t, *result.Status.PingSupported)
	})

	t.Run("tool call initializes and retries once", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{RequireSession: true})
		f.addServer(t, "strict", srv.URL())

		result, err := f.manager.ExecuteToolCall(ctx, "strict", "user-1", "search", map[string]any{"query": "go"})

		require.NoError(t, err)
		assert.Equal(t, "called search", mcp.GetTextFromContent(result.Content[0]))
		assert.Equal(t, 1, srv.MethodCount(jsonrpc.MethodInitialize))

		var calls []mock.RecordedRequest
		for _, r := range srv.Requests() {
			if r.Method == jsonrpc.MethodToolsCall {
				calls = append(calls, r)
			}
		}
		require.Len(t, calls, 2)
		assert.Equal(t, 400, calls[0].Status)
		assert.Equal(t, 200, calls[1].Status)
		assert.Equal(t, f.manager.http.Session(srv.URL()), calls[1].SessionID)
	})

	t.Run("transport types the rejection", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{RequireSession: true})

		_, err := f.manager.http.Call(ctx, srv.URL(), nil, jsonrpc.MethodToolsList, nil)

		require.ErrorIs(t, err, ErrSessionRequired)
		var httpErr *errorhandling.HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, 400, httpErr.StatusCode)

		_, err = f.manager.http.Call(ctx, srv.URL(), nil, jsonrpc.MethodInitialize, jsonrpc.InitializeParams("c", "1"))
		require.NoError(t, err)
		_, err = f.manager.http.Call(ctx, srv.URL(), nil, jsonrpc.MethodToolsList, nil)
		require.NoError(t, err)
	})

	t.Run("server without sessions needs no handshake", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{})
		f.addServer(t, "s", srv.URL())

		_, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		require.NoError(t, err)
		assert.Equal(t, 0, srv.MethodCount(jsonrpc.MethodInitialize))
	})
}

// tokenManagerFor builds a manager whose token lifecycle shares f's records.
func tokenManagerFor(t *testing.T, f *fixture) {
	t.Helper()
	kv := kvstore.NewMemory()
	t.Cleanup(func() { _ = kv.Close() })
	pkce := oauth.NewPKCEStore(kv, 0)
	discovery := oauth.NewDiscoverer(f.cfg, pkgoauth.NewClient(), pkce)
	tokens := oauth.NewTokenManager(f.cfg, discovery, f.servers, cache.NewOAuthCache(kv, 0))
	f.manager = NewManager(f.cfg, f.servers, f.tools, WithClock(f.clock.Now), WithTokenManager(tokens), WithDiscoverer(discovery))
}

func TestRevokedToken_RefreshedOn401(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, oauthCfg mock.OAuthServerConfig) (*fixture, *mock.OAuthServer, *mock.MCPServer) {
		f := newFixture(t)
		tokenManagerFor(t, f)
		as := mock.NewOAuthServer(t, oauthCfg)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "access-1", AuthorizationServer: as.URL()})
		rec := f.addServer(t, "s", srv.URL())
		rec.AccessToken = "revoked"
		rec.RefreshToken = "r1"
		rec.AuthStatus = servers.AuthStatusAuthorized
		require.NoError(t, f.servers.Update(ctx, rec))
		return f, as, srv
	}

	t.Run("tool call", func(t *testing.T) {
		f, as, srv := setup(t, mock.OAuthServerConfig{})

		result, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		require.NoError(t, err)
		assert.Equal(t, "called search", mcp.GetTextFromContent(result.Content[0]))
		assert.Len(t, as.TokenRequests(), 1)

		reqs := srv.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, 401, reqs[0].Status)
		assert.Equal(t, "Bearer access-1", reqs[1].Authorization)

		rec, err := f.servers.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "access-1", rec.AccessToken)
		assert.Equal(t, servers.AuthStatusAuthorized, rec.AuthStatus)
	})

	t.Run("capability fetch validates first", func(t *testing.T) {
		f, as, _ := setup(t, mock.OAuthServerConfig{})

		result := f.manager.GetServerCapabilities(ctx, "s", "user-1")

		require.True(t, result.Success, result.Error)
		assert.False(t, result.RequiresAuth)
		assert.Len(t, as.TokenRequests(), 1)

		rec, err := f.servers.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "access-1", rec.AccessToken)
	})

	t.Run("failed refresh still requires auth", func(t *testing.T) {
		f, _, _ := setup(t, mock.OAuthServerConfig{InvalidGrant: true})

		_, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		var authErr *AuthRequiredError
		require.True(t, errors.As(err, &authErr))
		rec, err := f.servers.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, servers.AuthStatusRequired, rec.AuthStatus)
	})
}

func TestExecuteToolCall_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("json-rpc error is typed", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{
			ToolHandler: func(string, map[string]any) (*mcp.CallToolResult, *jsonrpc.Error) {
				return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "query is required"}
			},
		})
		f.addServer(t, "s", srv.URL())

		_, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		var rpcErr *jsonrpc.Error
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
	})

	t.Run("401 is auth required", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "secret"})
		f.addServer(t, "s", srv.URL())

		_, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		var authErr *AuthRequiredError
		require.True(t, errors.As(err, &authErr))
		assert.True(t, errorhandling.HandleError(err, errorhandling.ErrorContext{}).RequiresAuth)
		assert.True(t, errorhandling.Is401Error(err))
	})

	t.Run("stored token is sent", func(t *testing.T) {
		f := newFixture(t)
		srv := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "secret"})
		rec := f.addServer(t, "s", srv.URL())
		rec.AccessToken = "secret"
		rec.AuthStatus = servers.AuthStatusAuthorized
		require.NoError(t, f.servers.Update(ctx, rec))

		_, err := f.manager.ExecuteToolCall(ctx, "s", "user-1", "search", nil)

		require.NoError(t, err)
		assert.Equal(t, "Bearer secret", srv.Requests()[0].Authorization)
	})
}

func TestSSETransport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	url := mock.NewSSEServer(t, "echo-server")
	f.addServer(t, "sse", url)

	caps := f.manager.GetServerCapabilities(ctx, "sse", "user-1")
	require.True(t, caps.Success, caps.Error)
	require.Len(t, caps.Tools, 1)
	assert.Equal(t, "echo", caps.Tools[0].Name)

	result, err := f.manager.ExecuteToolCall(ctx, "sse", "user-1", "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", mcp.GetTextFromContent(result.Content[0]))
}

func TestIsSSEURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/sse", true},
		{"https://example.com/v1/sse/", true},
		{"https://example.com/api/events", true},
		{"https://example.com/mcp", false},
		{"https://example.com/sse/mcp", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSSEURL(tt.url), tt.url)
	}
}

func TestHTTPTransport_TimeoutFor(t *testing.T) {
	tr := NewHTTPTransport(nil, config.ConnectionConfig{
		HTTPTimeout:     30 * time.Second,
		SlowHostTimeout: 120 * time.Second,
		SlowHosts:       []string{"slow.example.com", ".glacial.io"},
	})

	assert.Equal(t, 120*time.Second, tr.TimeoutFor("https://slow.example.com/mcp"))
	assert.Equal(t, 120*time.Second, tr.TimeoutFor("https://api.glacial.io/mcp"))
	assert.Equal(t, 30*time.Second, tr.TimeoutFor("https://notslow.example.com.evil/mcp"))
	assert.Equal(t, 30*time.Second, tr.TimeoutFor("https://fast.example.org/mcp"))
}

func TestCacheOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{})
	f.addServer(t, "a", srv.URL())
	f.addServer(t, "b", srv.URL())

	require.True(t, f.manager.GetServerCapabilities(ctx, "a", "user-1").Success)
	require.True(t, f.manager.GetServerCapabilities(ctx, "b", "user-1").Success)

	stats, err := f.manager.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.ElementsMatch(t, []string{"a", "b"}, stats.ServerIDs)

	require.NoError(t, f.manager.InvalidateServerCache(ctx, "a"))
	stats, err = f.manager.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stats.ServerIDs)
}

func TestLivenessTable(t *testing.T) {
	clock := mock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	table := NewLivenessTable(clock.Now)

	assert.Equal(t, StatusUnknown, table.Get("x").Status)
	_, known := table.PingSupported("x")
	assert.False(t, known)

	table.MarkTesting("x")
	assert.Equal(t, StatusTesting, table.Get("x").Status)

	yes := true
	table.MarkConnected("x", clock.Now(), &yes, 40*time.Millisecond)
	clock.Advance(time.Minute)
	table.MarkDisconnected("x", "boom")

	st := table.Get("x")
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Equal(t, "boom", st.Error)
	assert.Equal(t, clock.Now(), st.LastTested)
	require.NotNil(t, st.LastSuccess)
	assert.Equal(t, clock.Now().Add(-time.Minute), *st.LastSuccess)
	supported, known := table.PingSupported("x")
	assert.True(t, known)
	assert.True(t, supported)

	table.MarkConnected("x", clock.Now(), nil, 0)
	assert.Empty(t, table.Get("x").Error)
	assert.Equal(t, 40*time.Millisecond, table.Get("x").Latency)

	table.Forget("x")
	assert.Empty(t, table.Snapshot())
}
