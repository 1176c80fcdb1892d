package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/config"
	"mcpconnect/internal/jsonrpc"
	"mcpconnect/internal/servers"
	"mcpconnect/pkg/logging"
	pkgoauth "mcpconnect/pkg/oauth"
)

// ValidationPolicy decides what an inconclusive validation request means.
type ValidationPolicy int

const (
	// AssumeValid treats anything but a 401 as valid, so unrelated server
	// trouble does not trigger re-authorization.
	AssumeValid ValidationPolicy = iota
	// FailClosed treats anything but a 200 as invalid.
	FailClosed
)

// EnsureOptions tunes EnsureFreshToken.
type EnsureOptions struct {
	// PreemptiveWindow refreshes tokens that expire within it.
	PreemptiveWindow time.Duration
	// Validate checks the token live when the token is not known to be expiring.
	Validate bool
}

// FreshToken is a usable credential for one server.
type FreshToken struct {
	// Record is the server record after any refresh. It has already been
	// persisted.
	Record  *servers.Record
	Headers map[string]string
	// Refreshed is true when new tokens were obtained.
	Refreshed bool
}

// TokenManager validates, refreshes and persists bearer tokens for MCP
// servers.
type TokenManager struct {
	cfg        config.Config
	discovery  *Discoverer
	servers    servers.Store
	cache      *cache.OAuthCache
	httpClient *http.Client
	policy     ValidationPolicy
	now        func() time.Time
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithHTTPClient sets the client used for validation requests and the token
// endpoint.
func WithHTTPClient(hc *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		m.httpClient = hc
	}
}

// WithValidationPolicy overrides the policy for inconclusive validation requests.
func WithValidationPolicy(p ValidationPolicy) TokenManagerOption {
	return func(m *TokenManager) {
		m.policy = p
	}
}

// WithTokenClock overrides the time source used for expiry decisions.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a TokenManager. The validation policy comes from
// cfg.OAuth.FailClosedValidation unless overridden.
func NewTokenManager(cfg config.Config, discovery *Discoverer, store servers.Store, oauthCache *cache.OAuthCache, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		cfg:        cfg,
		discovery:  discovery,
		servers:    store,
		cache:      oauthCache,
		httpClient: discovery.Client().HTTPClient(),
		now:        time.Now,
	}
	if cfg.OAuth.FailClosedValidation {
		m.policy = FailClosed
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks accessToken against serverURL with a minimal initialize request carrying the
// token. 200 is valid and 401 is invalid. Anything else is decided by the
// validation policy.
func (m *TokenManager) Validate(ctx context.Context, serverURL, accessToken string) bool {
	valid, _ := m.check(ctx, serverURL, accessToken)
	return valid
}

// check returns the validation verdict and whether the server answered it
// conclusively with 200 or 401.
func (m *TokenManager) check(ctx context.Context, serverURL, accessToken string) (valid, conclusive bool) {
	fallback := m.policy == AssumeValid
	body, err := json.Marshal(jsonrpc.NewRequest(1, jsonrpc.MethodInitialize,
		jsonrpc.InitializeParams(m.cfg.OAuth.ClientName, config.ClientVersion)))
	if err != nil {
		return fallback, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return fallback, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logging.Debug("TokenLifecycle", "Validation request to %s failed: %v", serverURL, err)
		return fallback, false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, true
	case http.StatusUnauthorized:
		reason := "no challenge"
		if c := pkgoauth.ParseWWWAuthenticateFromResponse(resp); c != nil && c.Error != "" {
			reason = c.Error
		}
		logging.Info("TokenLifecycle", "Token %s rejected by %s (%s)", logging.RedactToken(accessToken), serverURL, reason)
		return false, true
	default:
		logging.Debug("TokenLifecycle", "Validation request to %s returned %d", serverURL, resp.StatusCode)
		return fallback, false
	}
}

// clientIDCandidates is the stored id followed by the configured
// alternatives, without duplicates. The empty id stays last; oauth2 leaves
// client_id out of the form for it rather than sending it blank.
func (m *TokenManager) clientIDCandidates(storedClientID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append([]string{storedClientID}, m.cfg.AlternativeClientIDs()...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return append(out, "")
}

// Refresh exchanges refreshToken at the server's token endpoint. When the
// endpoint answers invalid_client, the alternative client ids are tried in
// order. The rotated tokens are persisted onto the server record. A
// conclusive failure clears the record's tokens, flips it to required and
// returns *TokenRefreshError.
func (m *TokenManager) Refresh(ctx context.Context, serverURL, refreshToken, serverID, userID, storedClientID string) (*pkgoauth.Token, error) {
	tokenURL, err := m.discovery.TokenEndpoint(ctx, serverURL)
	if err != nil {
		return nil, fmt.Errorf("discovering token endpoint: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	candidates := m.clientIDCandidates(storedClientID)

	var lastErr error
	for i, clientID := range candidates {
		conf := &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}
		stored := &pkgoauth.Token{RefreshToken: refreshToken}
		tok, err := conf.TokenSource(ctx, stored.ToOAuth2Token()).Token()
		if err == nil {
			token := toToken(tok, refreshToken)
			logging.Info("TokenLifecycle", "Refreshed token for server %s with client id %q", serverID, clientID)
			m.persist(ctx, serverID, userID, clientID, token)
			return token, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		code := oauthErrorCode(err)
		if code == "invalid_client" && i < len(candidates)-1 {
			logging.Debug("TokenLifecycle", "Client id %q rejected for server %s, trying next", clientID, serverID)
			continue
		}
		if isConclusive(code) {
			m.revoke(ctx, serverID, userID)
			return nil, &TokenRefreshError{ServerID: serverID, Code: code, Err: err}
		}
		break
	}
	return nil, fmt.Errorf("refreshing token for server %s: %w", serverID, lastErr)
}

// EnsureFreshToken returns bearer headers for rec, refreshing first when
// the token has expired, expires within the preemptive window or fails
// validation. A record without usable credentials is flipped to required and
// ErrReauthRequired is returned.
func (m *TokenManager) EnsureFreshToken(ctx context.Context, rec *servers.Record, userID string, opts EnsureOptions) (*FreshToken, error) {
	if rec == nil || !rec.HasToken() {
		return nil, ErrReauthRequired
	}
	updated := rec.Clone()
	now := m.now()

	if updated.TokenExpiresAt == nil {
		if exp, ok := InferExpiry(updated.AccessToken); ok {
			updated.TokenExpiresAt = &exp
		}
	}

	reason := ""
	confirmed := false
	switch exp := updated.TokenExpiresAt; {
	case exp != nil && !now.Before(*exp):
		reason = "expired"
	case exp != nil && exp.Sub(now) <= opts.PreemptiveWindow:
		reason = "expiring"
	case opts.Validate && m.cache.IsTokenCacheValid(ctx, rec.ID, updated.AccessToken):
		confirmed = true
	case opts.Validate:
		valid, conclusive := m.check(ctx, updated.URL, updated.AccessToken)
		switch {
		case !valid:
			reason = "rejected"
		case conclusive:
			confirmed = true
			m.seedCache(ctx, updated)
		}
	}

	if reason == "" {
		if confirmed && updated.AuthStatus != servers.AuthStatusAuthorized {
			m.markAuthorized(ctx, updated, userID)
		}
		return &FreshToken{Record: updated, Headers: bearer(updated.AccessToken)}, nil
	}

	if updated.RefreshToken == "" {
		logging.Info("TokenLifecycle", "Token for server %s is %s and cannot be refreshed", rec.ID, reason)
		m.revoke(ctx, rec.ID, userID)
		return nil, ErrReauthRequired
	}

	logging.Debug("TokenLifecycle", "Refreshing %s token for server %s", reason, rec.ID)
	token, err := m.Refresh(ctx, updated.URL, updated.RefreshToken, rec.ID, userID, updated.ClientID)
	if err != nil {
		return nil, err
	}
	applyToken(updated, token)
	if stored, err := m.ownedRecord(ctx, rec.ID, userID); err == nil && stored.AccessToken == token.AccessToken {
		updated = stored
	}
	return &FreshToken{Record: updated, Headers: bearer(updated.AccessToken), Refreshed: true}, nil
}

func (m *TokenManager) persist(ctx context.Context, serverID, userID, clientID string, token *pkgoauth.Token) {
	rec, err := m.ownedRecord(ctx, serverID, userID)
	if err != nil {
		logging.Warn("TokenLifecycle", "Not persisting refreshed token for server %s: %v", serverID, err)
		return
	}
	applyToken(rec, token)
	if clientID != "" {
		rec.ClientID = clientID
	}
	if err := m.servers.Update(ctx, rec); err != nil {
		logging.Error("TokenLifecycle", err, "Failed to persist refreshed token for server %s", serverID)
		return
	}
	m.seedCache(ctx, rec)
}

// markAuthorized repairs a record whose token was confirmed valid while its
// status said otherwise.
func (m *TokenManager) markAuthorized(ctx context.Context, rec *servers.Record, userID string) {
	logging.Info("TokenLifecycle", "Token for server %s is valid but status was %q, marking authorized", rec.ID, rec.AuthStatus)
	rec.AuthStatus = servers.AuthStatusAuthorized
	stored, err := m.ownedRecord(ctx, rec.ID, userID)
	if err != nil {
		logging.Debug("TokenLifecycle", "Not persisting status of server %s: %v", rec.ID, err)
		return
	}
	if stored.AccessToken != rec.AccessToken {
		return
	}
	stored.AuthStatus = servers.AuthStatusAuthorized
	if err := m.servers.Update(ctx, stored); err != nil {
		logging.Warn("TokenLifecycle", "Failed to mark server %s authorized: %v", rec.ID, err)
	}
}

// revoke clears stored credentials so the next use asks for authorization
// instead of retrying a dead grant.
func (m *TokenManager) revoke(ctx context.Context, serverID, userID string) {
	if err := m.cache.InvalidateServer(ctx, serverID); err != nil {
		logging.Warn("TokenLifecycle", "Failed to drop cached token for server %s: %v", serverID, err)
	}
	rec, err := m.ownedRecord(ctx, serverID, userID)
	if err != nil {
		logging.Warn("TokenLifecycle", "Cannot clear tokens for server %s: %v", serverID, err)
		return
	}
	rec.ClearTokens()
	if err := m.servers.Update(ctx, rec); err != nil {
		logging.Error("TokenLifecycle", err, "Failed to clear tokens for server %s", serverID)
		return
	}
	logging.Info("TokenLifecycle", "Cleared tokens for server %s, re-authorization required", serverID)
}

func (m *TokenManager) ownedRecord(ctx context.Context, serverID, userID string) (*servers.Record, error) {
	rec, err := m.servers.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if userID != "" && rec.UserID != userID {
		return nil, fmt.Errorf("server %s belongs to another user: %w", serverID, servers.ErrNotFound)
	}
	return rec, nil
}

func (m *TokenManager) seedCache(ctx context.Context, rec *servers.Record) {
	err := m.cache.Set(ctx, rec.ID, &cache.TokenEntry{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.TokenExpiresAt,
		ClientID:     rec.ClientID,
		ServerURL:    rec.URL,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("TokenLifecycle", "Failed to cache validated token for server %s: %v", rec.ID, err)
	}
}

// toToken converts an oauth2 token, inferring the expiry from a JWT access
// token when the endpoint sent no expires_in.
func toToken(tok *oauth2.Token, previousRefresh string) *pkgoauth.Token {
	token := pkgoauth.FromOAuth2Token(tok, previousRefresh)
	if token.ExpiresAt.IsZero() {
		if exp, ok := InferExpiry(token.AccessToken); ok {
			token.ExpiresAt = exp
		}
	}
	return token
}

func applyToken(rec *servers.Record, token *pkgoauth.Token) {
	rec.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		rec.RefreshToken = token.RefreshToken
	}
	rec.TokenExpiresAt = nil
	if !token.ExpiresAt.IsZero() {
		exp := token.ExpiresAt
		rec.TokenExpiresAt = &exp
	}
	rec.AuthStatus = servers.AuthStatusAuthorized
}

func bearer(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}
