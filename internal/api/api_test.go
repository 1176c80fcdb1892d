package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/catalog"
	"mcpconnect/internal/config"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/kvstore"
	"mcpconnect/internal/oauth"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/telemetry"
	"mcpconnect/internal/testing/mock"
	"mcpconnect/internal/toolexec"
	pkgoauth "mcpconnect/pkg/oauth"
)

type fixture struct {
	servers   servers.Store
	discovery *oauth.Discoverer
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := kvstore.NewMemory()
	t.Cleanup(func() { _ = kv.Close() })
	records, err := servers.NewFileStore(filepath.Join(t.TempDir(), "servers.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	cfg := config.GetDefaultConfig()
	oauthCache := cache.NewOAuthCache(kv, 0)
	pkce := oauth.NewPKCEStore(kv, 0)
	discovery := oauth.NewDiscoverer(cfg, pkgoauth.NewClient(), pkce)
	tokens := oauth.NewTokenManager(cfg, discovery, records, oauthCache)
	manager := connection.NewManager(cfg, records, cache.NewToolCache(kv, 0),
		connection.WithTokenManager(tokens), connection.WithDiscoverer(discovery))

	reg := prometheus.NewRegistry()
	sink, err := telemetry.NewPrometheusSink(reg)
	require.NoError(t, err)

	return &fixture{
		servers:   records,
		discovery: discovery,
		router: NewRouter(Deps{
			Manager:    manager,
			ToolExec:   toolexec.NewService(manager, records, catalog.New(), telemetry.New(sink)),
			Exchanger:  oauth.NewExchanger(pkce, discovery, records, oauthCache),
			OAuthCache: oauthCache,
			Discoverer: discovery,
			Gatherer:   reg,
		}),
	}
}

func (f *fixture) addServer(t *testing.T, id, serverURL string) {
	t.Helper()
	require.NoError(t, f.servers.Create(context.Background(), &servers.Record{
		ID: id, UserID: "u1", Name: id, URL: serverURL, Enabled: true, AuthStatus: servers.AuthStatusAuthorized,
	}))
}

func (f *fixture) do(method, target string, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var echoTool = mcp.NewTool("echo", mcp.WithString("text", mcp.Required()))

func TestCacheClear_DropsDiscoveryMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as := mock.NewOAuthServer(t, mock.OAuthServerConfig{})
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "secret", AuthorizationServer: as.URL()})
	f.addServer(t, "locked", srv.URL())

	for i := 0; i < 2; i++ {
		_, err := f.discovery.TokenEndpoint(ctx, srv.URL())
		require.NoError(t, err)
	}
	require.Equal(t, 1, as.MetadataRequests())

	w := f.do(http.MethodDelete, "/api/cache/locked", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err := f.discovery.TokenEndpoint(ctx, srv.URL())
	require.NoError(t, err)
	assert.Equal(t, 2, as.MetadataRequests())
}

func TestCapabilities_FailureCarriesRecommendation(t *testing.T) {
	f := newFixture(t)
	f.addServer(t, "gone", "http://127.0.0.1:1/mcp")

	w := f.do(http.MethodPost, "/api/servers/gone/test?user=u1", "")
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	rec, ok := body["recommendation"].(map[string]any)
	require.True(t, ok, w.Body.String())
	assert.Equal(t, "retry", rec["action"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestCapabilitiesAndCache(t *testing.T) {
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Tools: []mcp.Tool{echoTool}})
	f.addServer(t, "echo", srv.URL())

	w := f.do(http.MethodGet, "/api/servers/echo/capabilities", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "user is required")

	w = f.do(http.MethodGet, "/api/servers/echo/capabilities", "", "X-User-ID", "u1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[connection.CapabilitiesResult](t, w)
	assert.True(t, res.Success)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "echo", res.Tools[0].Name)

	w = f.do(http.MethodGet, "/api/servers/echo/capabilities?user=u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[connection.CapabilitiesResult](t, w).FromCache)

	w = f.do(http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]cache.Stats](t, w)
	assert.Equal(t, 1, stats["tools"].Count)
	assert.Equal(t, []string{"echo"}, stats["tools"].ServerIDs)

	w = f.do(http.MethodDelete, "/api/cache/echo", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(http.MethodGet, "/api/cache/stats", "")
	assert.Equal(t, 0, decode[map[string]cache.Stats](t, w)["tools"].Count)

	w = f.do(http.MethodPost, "/api/servers/echo/test?user=u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[connection.CapabilitiesResult](t, w).FromCache)

	w = f.do(http.MethodGet, "/api/servers/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"connected"`)
}

func TestCapabilities_UnreachableServer(t *testing.T) {
	f := newFixture(t)
	f.addServer(t, "down", "http://127.0.0.1:1/mcp")

	w := f.do(http.MethodGet, "/api/servers/down/capabilities?user=u1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, decode[connection.CapabilitiesResult](t, w).Success)
}

func TestAuthorizationRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as := mock.NewOAuthServer(t, mock.OAuthServerConfig{})
	rs := mock.NewMCPServer(t, mock.MCPServerConfig{
		Tools:               []mcp.Tool{echoTool},
		BearerToken:         "access-1",
		AuthorizationServer: as.URL(),
	})
	f.addServer(t, "locked", rs.URL())

	w := f.do(http.MethodGet, "/api/servers/locked/capabilities?user=u1", "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	res := decode[connection.CapabilitiesResult](t, w)
	assert.True(t, res.RequiresAuth)
	require.NotEmpty(t, res.AuthorizationURL)

	code, state, err := as.Authorize(res.AuthorizationURL)
	require.NoError(t, err)

	w = f.do(http.MethodGet, "/oauth/callback?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Authorization Successful")
	assert.Contains(t, w.Body.String(), "locked")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	rec, err := f.servers.Get(ctx, "locked")
	require.NoError(t, err)
	assert.Equal(t, servers.AuthStatusAuthorized, rec.AuthStatus)

	w = f.do(http.MethodGet, "/api/servers/locked/capabilities?user=u1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/oauth/callback?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestOAuthCallback_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "provider error", query: "error=access_denied&error_description=%3Cb%3Edenied%3C%2Fb%3E", want: "&lt;b&gt;denied&lt;/b&gt;"},
		{name: "missing code", query: "state=abc", want: "missing the code or state"},
		{name: "unknown state", query: "code=c&state=nope", want: "expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/oauth/callback?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestToolsDiscoverAndCall(t *testing.T) {
	f := newFixture(t)
	srv := mock.NewMCPServer(t, mock.MCPServerConfig{Tools: []mcp.Tool{echoTool}})
	f.addServer(t, "echo", srv.URL())

	w := f.do(http.MethodGet, "/api/users/u1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[toolexec.Discovery](t, w)
	require.Len(t, d.Tools, 1)
	require.Len(t, d.Servers, 1)
	assert.True(t, d.Servers[0].Success)

	w = f.do(http.MethodPost, "/api/users/u1/tools/call", `{"serverId":"echo","toolName":"echo","arguments":{"text":"hi"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), "called echo")

	w = f.do(http.MethodPost, "/api/users/u1/tools/call", `{"serverId":"echo","toolName":"echo"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	assert.Contains(t, w.Body.String(), "missing required text")

	w = f.do(http.MethodPost, "/api/users/u1/tools/call", `{"serverId":"echo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `mcpconnect_events_total{event="tool_execution"`)
}
