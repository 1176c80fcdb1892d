package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for discovery HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL bounds how long discovery documents are reused.
	DefaultMetadataCacheTTL = 5 * time.Minute

	protectedResourceWellKnown   = "/.well-known/oauth-protected-resource"
	authorizationServerWellKnown = "/.well-known/oauth-authorization-server"
	openIDConfigurationWellKnown = "/.well-known/openid-configuration"

	maxMetadataBytes = 1 << 20
)

// ErrMetadataNotFound is returned when no candidate URL produced a metadata document.
var ErrMetadataNotFound = errors.New("oauth metadata not found")

// cacheEntry holds a fetched document (or a negative result) keyed by request URL.
type cacheEntry struct {
	body      []byte
	err       error
	fetchedAt time.Time
}

// Client performs OAuth discovery against arbitrary resource and authorization
// servers: RFC 9728 protected resource metadata, RFC 8414 authorization server
// metadata and RFC 7591 dynamic client registration.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	cacheMu  sync.RWMutex
	cache    map[string]*cacheEntry
	cacheTTL time.Duration

	// group deduplicates concurrent fetches of the same URL
	group singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the discovery cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new OAuth discovery client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
		now:        time.Now,
		cache:      make(map[string]*cacheEntry),
		cacheTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchProtectedResourceMetadata fetches an RFC 9728 document from an explicit URL,
// typically the resource_metadata parameter of a WWW-Authenticate challenge.
func (c *Client) FetchProtectedResourceMetadata(ctx context.Context, metadataURL string) (*ProtectedResourceMetadata, error) {
	body, err := c.getCached(ctx, metadataURL)
	if err != nil {
		return nil, err
	}
	var prm ProtectedResourceMetadata
	if err := json.Unmarshal(body, &prm); err != nil {
		return nil, fmt.Errorf("failed to parse protected resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("protected resource metadata at %s lists no authorization servers", metadataURL)
	}
	return &prm, nil
}

// DiscoverProtectedResource tries the well-known RFC 9728 locations for a
// resource URL: the origin root, the path-inserted form and the path-appended form.
func (c *Client) DiscoverProtectedResource(ctx context.Context, resourceURL string) (*ProtectedResourceMetadata, error) {
	u, err := parseHTTPURL(resourceURL)
	if err != nil {
		return nil, err
	}
	origin := u.Scheme + "://" + u.Host
	path := strings.TrimSuffix(u.Path, "/")

	candidates := []string{origin + protectedResourceWellKnown}
	if path != "" {
		candidates = append(candidates,
			origin+protectedResourceWellKnown+path,
			origin+path+protectedResourceWellKnown,
		)
	}

	var lastErr error = ErrMetadataNotFound
	for _, candidate := range candidates {
		prm, err := c.FetchProtectedResourceMetadata(ctx, candidate)
		if err == nil {
			return prm, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("Protected resource metadata lookup failed", "url", candidate, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("no protected resource metadata for %s: %w", resourceURL, lastErr)
}

// DiscoverMetadata fetches RFC 8414 metadata for an issuer. resourceURL is
// optional; when it has a non-root path a co-located well-known document is
// also tried. OpenID Connect discovery is the last resort.
//
// A mismatching issuer field is logged but not rejected.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer, resourceURL string) (*Metadata, error) {
	iss, err := parseHTTPURL(issuer)
	if err != nil {
		return nil, err
	}
	origin := iss.Scheme + "://" + iss.Host
	issuerPath := strings.TrimSuffix(iss.Path, "/")

	candidates := []string{origin + authorizationServerWellKnown}
	if issuerPath != "" {
		candidates = append(candidates, origin+authorizationServerWellKnown+issuerPath)
	}
	if resourceURL != "" {
		if res, err := parseHTTPURL(resourceURL); err == nil {
			if p := strings.TrimSuffix(res.Path, "/"); p != "" {
				resOrigin := res.Scheme + "://" + res.Host
				candidates = append(candidates,
					resOrigin+authorizationServerWellKnown+p,
					resOrigin+p+authorizationServerWellKnown,
				)
			}
		}
	}
	candidates = append(candidates, strings.TrimSuffix(issuer, "/")+openIDConfigurationWellKnown)

	seen := make(map[string]bool, len(candidates))
	var lastErr error = ErrMetadataNotFound
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		body, err := c.getCached(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		var md Metadata
		if err := json.Unmarshal(body, &md); err != nil {
			lastErr = fmt.Errorf("failed to parse metadata from %s: %w", candidate, err)
			continue
		}
		if md.AuthorizationEndpoint == "" && md.TokenEndpoint == "" {
			lastErr = fmt.Errorf("metadata at %s has no endpoints", candidate)
			continue
		}
		if md.Issuer != "" && strings.TrimSuffix(md.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
			c.logger.Warn("Authorization server issuer mismatch",
				"expected", issuer,
				"actual", md.Issuer,
				"url", candidate)
		}
		return &md, nil
	}

	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, lastErr)
}

// ResolveMetadata is DiscoverMetadata with the non-compliant-server fallback:
// when nothing is published, {origin}/oauth/authorize and {origin}/oauth/token
// are assumed and the result is marked Fallback.
func (c *Client) ResolveMetadata(ctx context.Context, issuer, resourceURL string) (*Metadata, error) {
	md, err := c.DiscoverMetadata(ctx, issuer, resourceURL)
	if err == nil {
		return md, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	fallback := FallbackMetadata(issuer)
	if fallback == nil {
		return nil, err
	}
	c.logger.Debug("Using fallback OAuth endpoints", "issuer", issuer, "error", err)
	return fallback, nil
}

// FallbackMetadata synthesizes endpoints under the issuer origin.
func FallbackMetadata(issuer string) *Metadata {
	origin := Origin(issuer)
	if origin == "" {
		return nil
	}
	return &Metadata{
		Issuer:                origin,
		AuthorizationEndpoint: origin + "/oauth/authorize",
		TokenEndpoint:         origin + "/oauth/token",
		Fallback:              true,
	}
}

// RegisterClient performs RFC 7591 dynamic client registration.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint string, reg *ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Debug("Client registration failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("client registration failed with status %d", resp.StatusCode)
	}

	var out ClientRegistrationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if out.ClientID == "" {
		return nil, fmt.Errorf("registration response has no client_id")
	}
	return &out, nil
}

// getCached returns the body of a successful GET, consulting the cache first.
// Failures are cached too so a non-compliant server is not queried again on every call.
func (c *Client) getCached(ctx context.Context, rawURL string) ([]byte, error) {
	if entry, ok := c.lookup(rawURL); ok {
		return entry.body, entry.err
	}

	result, err, _ := c.group.Do(rawURL, func() (interface{}, error) {
		if entry, ok := c.lookup(rawURL); ok {
			return entry, nil
		}
		body, fetchErr := c.fetch(ctx, rawURL)
		if fetchErr != nil && ctx.Err() != nil {
			// Caller cancellation says nothing about the server.
			return nil, fetchErr
		}
		entry := &cacheEntry{body: body, err: fetchErr, fetchedAt: c.now()}
		c.cacheMu.Lock()
		c.cache[rawURL] = entry
		c.cacheMu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	entry := result.(*cacheEntry)
	return entry.body, entry.err
}

func (c *Client) lookup(rawURL string) (*cacheEntry, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	entry, ok := c.cache[rawURL]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.cacheTTL {
		return nil, false
	}
	return entry, true
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request to %s failed with status %d", rawURL, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
}

// ClearMetadataCache drops all cached discovery documents.
func (c *Client) ClearMetadataCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*cacheEntry)
	c.cacheMu.Unlock()
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: expected absolute http(s) URL", raw)
	}
	return u, nil
}
