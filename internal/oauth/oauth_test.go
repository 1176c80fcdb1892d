package oauth

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/config"
	"mcpconnect/internal/kvstore"
	"mcpconnect/internal/servers"
	"mcpconnect/internal/testing/mock"
	pkgoauth "mcpconnect/pkg/oauth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg        config.Config
	clock      *mock.Clock
	servers    servers.Store
	oauthCache *cache.OAuthCache
	pkce       *PKCEStore
	discovery  *Discoverer
	tokens     *TokenManager
	exchanger  *Exchanger
}

func newFixture(t *testing.T, opts ...TokenManagerOption) *fixture {
	t.Helper()
	clock := mock.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory(kvstore.WithClock(clock.Now))
	t.Cleanup(func() { _ = kv.Close() })

	records, err := servers.NewFileStore(filepath.Join(t.TempDir(), "servers.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	cfg := config.GetDefaultConfig()
	oauthCache := cache.NewOAuthCache(kv, 0, cache.WithOAuthClock(clock.Now))
	pkce := NewPKCEStore(kv, 0, WithPKCEClock(clock.Now))
	discovery := NewDiscoverer(cfg, pkgoauth.NewClient(), pkce)

	opts = append([]TokenManagerOption{WithTokenClock(clock.Now)}, opts...)
	return &fixture{
		cfg:        cfg,
		clock:      clock,
		servers:    records,
		oauthCache: oauthCache,
		pkce:       pkce,
		discovery:  discovery,
		tokens:     NewTokenManager(cfg, discovery, records, oauthCache, opts...),
		exchanger:  NewExchanger(pkce, discovery, records, oauthCache),
	}
}

func (f *fixture) addServer(t *testing.T, rec *servers.Record) {
	t.Helper()
	require.NoError(t, f.servers.Create(context.Background(), rec))
}

// protectedServer starts an OAuth server and an MCP server that points at it.
func protectedServer(t *testing.T, oauthCfg mock.OAuthServerConfig) (*mock.OAuthServer, *mock.MCPServer) {
	t.Helper()
	as := mock.NewOAuthServer(t, oauthCfg)
	rs := mock.NewMCPServer(t, mock.MCPServerConfig{
		BearerToken:         "good-token",
		AuthorizationServer: as.URL(),
	})
	return as, rs
}

func TestPKCEStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pkce.Store(ctx, &PKCEEntry{State: "abc", CodeVerifier: "v1", ClientID: "c"}))

	entry, err := f.pkce.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.CodeVerifier)
	assert.Equal(t, f.clock.Now(), entry.CreatedAt)

	_, err = f.pkce.Retrieve(ctx, "abc")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestPKCEStore_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("store expiry", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pkce.Store(ctx, &PKCEEntry{State: "s", CodeVerifier: "v"}))
		f.clock.Advance(DefaultStateTTL + time.Second)
		_, err := f.pkce.Retrieve(ctx, "s")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("age check when the backend still has it", func(t *testing.T) {
		clock := mock.NewClock(time.Time{})
		kv := kvstore.NewMemory()
		t.Cleanup(func() { _ = kv.Close() })
		store := NewPKCEStore(kv, time.Minute, WithPKCEClock(clock.Now))

		require.NoError(t, store.Store(ctx, &PKCEEntry{State: "s", CodeVerifier: "v"}))
		clock.Advance(time.Minute)
		_, err := store.Retrieve(ctx, "s")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})
}

func TestPKCEStore_OverwriteAndValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pkce.Store(ctx, &PKCEEntry{State: "s", CodeVerifier: "first"}))
	require.NoError(t, f.pkce.Store(ctx, &PKCEEntry{State: "s", CodeVerifier: "second"}))
	entry, err := f.pkce.Retrieve(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "second", entry.CodeVerifier)

	assert.Error(t, f.pkce.Store(ctx, &PKCEEntry{State: "s"}))
	_, err = f.pkce.Retrieve(ctx, "")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestDiscoverAuthorizationURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as, rs := protectedServer(t, mock.OAuthServerConfig{RegisteredClientID: "dcr-client"})

	authURL, err := f.discovery.DiscoverAuthorizationURL(ctx, rs.WWWAuthenticate(), rs.URL(), DiscoveryOptions{ServerID: "srv-1", UserID: "u1"})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, as.URL()+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "dcr-client", q.Get("client_id"))
	assert.Equal(t, f.cfg.RedirectURI(), q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, rs.URL(), q.Get("resource"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), q.Get("state"))
	assert.Equal(t, 1, as.Registrations())

	entry, err := f.pkce.Retrieve(ctx, q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "dcr-client", entry.ClientID)
	assert.Equal(t, rs.URL(), entry.Resource)
	assert.Equal(t, "srv-1", entry.ServerID)
	assert.Equal(t, as.URL()+"/token", entry.TokenEndpoint)
	assert.Equal(t, pkgoauth.ChallengeFromVerifier(entry.CodeVerifier), q.Get("code_challenge"))
}

func TestDiscoverAuthorizationURL_FallsBackToOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rs := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "x"})
	origin := pkgoauth.Origin(rs.URL())

	authURL, err := f.discovery.DiscoverAuthorizationURL(ctx, `Bearer realm="mcp"`, rs.URL(), DiscoveryOptions{})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, origin+"/oauth/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, f.cfg.OAuth.DefaultClientID, u.Query().Get("client_id"))
	assert.Empty(t, u.Query().Get("resource"))
}

func TestDiscoverAuthorizationURL_NonBearerChallenge(t *testing.T) {
	f := newFixture(t)
	rs := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "x"})

	_, err := f.discovery.DiscoverAuthorizationURL(context.Background(), `Basic realm="intranet"`, rs.URL(), DiscoveryOptions{})
	assert.ErrorIs(t, err, ErrNoAuthorizationServer)
}

func TestDiscoverAuthorizationURL_TotalFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.discovery.DiscoverAuthorizationURL(context.Background(), "", "not a url", DiscoveryOptions{})
	assert.ErrorIs(t, err, ErrNoAuthorizationServer)
}

func TestAlternateTokenEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://as.example.com/token", "https://as.example.com/oauth/token"},
		{"https://as.example.com/oauth/token", "https://as.example.com/token"},
		{"https://as.example.com/tenant/oauth/token", "https://as.example.com/tenant/token"},
		{"https://as.example.com/connect/issue", "https://as.example.com/oauth/token"},
		{"::", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlternateTokenEndpoint(tt.in), tt.in)
	}
}

func TestRefresh_ClientIDFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as, rs := protectedServer(t, mock.OAuthServerConfig{
		AcceptedClientIDs: []string{config.DefaultGenericClientName},
	})
	f.addServer(t, &servers.Record{
		ID: "srv-1", UserID: "u1", URL: rs.URL(), Name: "Docs", Enabled: true,
		AuthStatus: servers.AuthStatusAuthorized, AccessToken: "old", RefreshToken: "r-old", ClientID: "stale-id",
	})

	token, err := f.tokens.Refresh(ctx, rs.URL(), "r-old", "srv-1", "u1", "stale-id")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)

	var tried []string
	for _, req := range as.TokenRequests() {
		tried = append(tried, req.Form.Get("client_id"))
		assert.Equal(t, "refresh_token", req.Form.Get("grant_type"))
	}
	assert.Equal(t, []string{"stale-id", config.DefaultClientName, config.DefaultShortClientName, config.DefaultGenericClientName}, tried)

	rec, err := f.servers.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", rec.AccessToken)
	assert.Equal(t, "refresh-1", rec.RefreshToken)
	assert.Equal(t, config.DefaultGenericClientName, rec.ClientID)
	assert.Equal(t, servers.AuthStatusAuthorized, rec.AuthStatus)
	require.NotNil(t, rec.TokenExpiresAt)

	cached, err := f.oauthCache.GetValidatedToken(ctx, "srv-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "access-1", cached.AccessToken)
}

func TestRefresh_EmptyClientIDIsLastResort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as, rs := protectedServer(t, mock.OAuthServerConfig{AcceptedClientIDs: []string{""}})
	f.addServer(t, &servers.Record{ID: "srv-1", URL: rs.URL(), AccessToken: "a", RefreshToken: "r"})

	_, err := f.tokens.Refresh(ctx, rs.URL(), "r", "srv-1", "", config.DefaultClientName)
	require.NoError(t, err)

	reqs := as.TokenRequests()
	require.Len(t, reqs, 4)
	_, sent := reqs[3].Form["client_id"]
	assert.False(t, sent, "empty client id should be omitted from the form")
}

func TestRefresh_ConclusiveFailureClearsTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, rs := protectedServer(t, mock.OAuthServerConfig{InvalidGrant: true})
	f.addServer(t, &servers.Record{
		ID: "srv-1", UserID: "u1", URL: rs.URL(), AuthStatus: servers.AuthStatusAuthorized,
		AccessToken: "old", RefreshToken: "dead",
	})

	_, err := f.tokens.Refresh(ctx, rs.URL(), "dead", "srv-1", "u1", "")
	require.Error(t, err)

	var refreshErr *TokenRefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, "invalid_grant", refreshErr.Code)
	assert.ErrorIs(t, err, ErrReauthRequired)

	rec, err := f.servers.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, rec.AccessToken)
	assert.Empty(t, rec.RefreshToken)
	assert.Equal(t, servers.AuthStatusRequired, rec.AuthStatus)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	rs := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "good-token"})

	f := newFixture(t)
	assert.True(t, f.tokens.Validate(ctx, rs.URL(), "good-token"))
	assert.False(t, f.tokens.Validate(ctx, rs.URL(), "bad-token"))
	assert.True(t, f.tokens.Validate(ctx, "http://127.0.0.1:1/mcp", "good-token"), "network errors assume valid")

	strict := newFixture(t, WithValidationPolicy(FailClosed))
	assert.False(t, strict.tokens.Validate(ctx, "http://127.0.0.1:1/mcp", "good-token"))
}

func TestEnsureFreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("preemptive refresh", func(t *testing.T) {
		f := newFixture(t)
		_, rs := protectedServer(t, mock.OAuthServerConfig{})
		exp := f.clock.Now().Add(time.Minute)
		rec := &servers.Record{ID: "srv-1", URL: rs.URL(), AccessToken: "old", RefreshToken: "r", TokenExpiresAt: &exp}
		f.addServer(t, rec)

		fresh, err := f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{PreemptiveWindow: 5 * time.Minute})
		require.NoError(t, err)
		assert.True(t, fresh.Refreshed)
		assert.Equal(t, "Bearer access-1", fresh.Headers["Authorization"])
		assert.Equal(t, "access-1", fresh.Record.AccessToken)
		assert.Equal(t, "old", rec.AccessToken, "input record is not mutated")
	})

	t.Run("valid token is served from cache", func(t *testing.T) {
		f := newFixture(t)
		rs := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "good-token"})
		rec := &servers.Record{ID: "srv-1", URL: rs.URL(), AccessToken: "good-token"}

		fresh, err := f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{Validate: true})
		require.NoError(t, err)
		assert.False(t, fresh.Refreshed)
		assert.Equal(t, 1, rs.MethodCount("initialize"))

		_, err = f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{Validate: true})
		require.NoError(t, err)
		assert.Equal(t, 1, rs.MethodCount("initialize"), "second call should hit the token cache")
	})

	t.Run("confirmed token repairs a diverged status", func(t *testing.T) {
		f := newFixture(t)
		rs := mock.NewMCPServer(t, mock.MCPServerConfig{BearerToken: "good-token"})
		rec := &servers.Record{ID: "srv-1", UserID: "u1", URL: rs.URL(), AccessToken: "good-token", AuthStatus: servers.AuthStatusRequired}
		f.addServer(t, rec)

		fresh, err := f.tokens.EnsureFreshToken(ctx, rec, "u1", EnsureOptions{Validate: true})
		require.NoError(t, err)
		assert.Equal(t, servers.AuthStatusAuthorized, fresh.Record.AuthStatus)

		stored, err := f.servers.Get(ctx, "srv-1")
		require.NoError(t, err)
		assert.Equal(t, servers.AuthStatusAuthorized, stored.AuthStatus)
	})

	t.Run("assumed valid token is not cached", func(t *testing.T) {
		f := newFixture(t)
		rec := &servers.Record{ID: "srv-1", URL: "http://127.0.0.1:1/mcp", AccessToken: "tok", AuthStatus: servers.AuthStatusRequired}
		f.addServer(t, rec)

		fresh, err := f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{Validate: true})
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok", fresh.Headers["Authorization"])

		cached, err := f.oauthCache.GetValidatedToken(ctx, "srv-1")
		require.NoError(t, err)
		assert.Nil(t, cached)

		stored, err := f.servers.Get(ctx, "srv-1")
		require.NoError(t, err)
		assert.Equal(t, servers.AuthStatusRequired, stored.AuthStatus, "unconfirmed tokens do not repair status")
	})

	t.Run("rejected token is refreshed", func(t *testing.T) {
		f := newFixture(t)
		as, rs := protectedServer(t, mock.OAuthServerConfig{})
		rec := &servers.Record{ID: "srv-1", URL: rs.URL(), AccessToken: "revoked", RefreshToken: "r", AuthStatus: servers.AuthStatusAuthorized}
		f.addServer(t, rec)

		fresh, err := f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{Validate: true})
		require.NoError(t, err)
		assert.True(t, fresh.Refreshed)
		assert.Equal(t, "Bearer access-1", fresh.Headers["Authorization"])
		assert.Len(t, as.TokenRequests(), 1)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		f := newFixture(t)
		exp := f.clock.Now().Add(-time.Minute)
		rec := &servers.Record{ID: "srv-1", URL: "https://mcp.example.com", AuthStatus: servers.AuthStatusAuthorized, AccessToken: "old", TokenExpiresAt: &exp}
		f.addServer(t, rec)

		_, err := f.tokens.EnsureFreshToken(ctx, rec, "", EnsureOptions{})
		assert.ErrorIs(t, err, ErrReauthRequired)

		stored, err := f.servers.Get(ctx, "srv-1")
		require.NoError(t, err)
		assert.Equal(t, servers.AuthStatusRequired, stored.AuthStatus)
		assert.False(t, stored.HasToken())
	})

	t.Run("no token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.tokens.EnsureFreshToken(ctx, &servers.Record{ID: "srv-1"}, "", EnsureOptions{})
		assert.ErrorIs(t, err, ErrReauthRequired)
	})
}

func TestExchange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as, rs := protectedServer(t, mock.OAuthServerConfig{})
	f.addServer(t, &servers.Record{ID: "srv-1", UserID: "u1", URL: rs.URL(), AuthStatus: servers.AuthStatusRequired})

	authURL, err := f.discovery.DiscoverAuthorizationURL(ctx, rs.WWWAuthenticate(), rs.URL(), DiscoveryOptions{ServerID: "srv-1", UserID: "u1"})
	require.NoError(t, err)
	code, state, err := as.Authorize(authURL)
	require.NoError(t, err)

	result, err := f.exchanger.Exchange(ctx, code, state)
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, "access-1", result.Token.AccessToken)

	rec, err := f.servers.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, servers.AuthStatusAuthorized, rec.AuthStatus)
	assert.Equal(t, "access-1", rec.AccessToken)
	assert.Equal(t, f.cfg.OAuth.DefaultClientID, rec.ClientID)

	reqs := as.TokenRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, rs.URL(), reqs[0].Form.Get("resource"))
	assert.Equal(t, f.cfg.RedirectURI(), reqs[0].Form.Get("redirect_uri"))

	_, err = f.exchanger.Exchange(ctx, code, state)
	assert.ErrorIs(t, err, ErrStateNotFound, "state is single use")
}

func TestExchange_AlternateTokenPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	as, rs := protectedServer(t, mock.OAuthServerConfig{TokenPath: "/token", AdvertisedTokenPath: "/oauth/token"})

	authURL, err := f.discovery.DiscoverAuthorizationURL(ctx, rs.WWWAuthenticate(), rs.URL(), DiscoveryOptions{})
	require.NoError(t, err)
	code, state, err := as.Authorize(authURL)
	require.NoError(t, err)

	result, err := f.exchanger.Exchange(ctx, code, state)
	require.NoError(t, err)
	assert.Nil(t, result.Record)
	assert.Equal(t, "access-1", result.Token.AccessToken)
	require.Len(t, as.TokenRequests(), 1)
	assert.Equal(t, "/token", as.TokenRequests()[0].Path)
}

func TestInferExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	got, ok := InferExpiry(signed)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = InferExpiry("opaque-token")
	assert.False(t, ok)
}
