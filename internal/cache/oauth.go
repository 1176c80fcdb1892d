package cache

import (
	"context"
	"time"

	"mcpconnect/internal/kvstore"
	"mcpconnect/pkg/logging"
)

const (
	// OAuthPrefix namespaces token validation entries in the shared store.
	OAuthPrefix = "mcp:oauth:"

	// DefaultOAuthTTL is how long a validation result is trusted.
	DefaultOAuthTTL = 30 * time.Minute
)

// TokenEntry records that AccessToken was known valid at ValidatedAt.
type TokenEntry struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ClientID     string     `json:"clientId,omitempty"`
	ValidatedAt  time.Time  `json:"validatedAt"`
	ServerURL    string     `json:"serverUrl"`
}

// OAuthCache stores token validation results under OAuthPrefix. Entries are
// small and sensitive, so they are stored uncompressed and short-lived.
type OAuthCache struct {
	ns  namespace
	now func() time.Time
}

// OAuthCacheOption configures an OAuthCache.
type OAuthCacheOption func(*OAuthCache)

// WithOAuthClock overrides the time source used for staleness checks.
func WithOAuthClock(now func() time.Time) OAuthCacheOption {
	return func(c *OAuthCache) { c.now = now }
}

// NewOAuthCache creates an OAuth cache over store. ttl <= 0 selects DefaultOAuthTTL.
func NewOAuthCache(store kvstore.Store, ttl time.Duration, opts ...OAuthCacheOption) *OAuthCache {
	if ttl <= 0 {
		ttl = DefaultOAuthTTL
	}
	c := &OAuthCache{
		ns:  namespace{store: store, prefix: OAuthPrefix, ttl: ttl},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for a server, or nil on a miss.
func (c *OAuthCache) Get(ctx context.Context, serverID string) (*TokenEntry, error) {
	var entry TokenEntry
	ok, err := c.ns.get(ctx, serverID, &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

// Set stores an entry. A zero ValidatedAt is stamped with the current time.
func (c *OAuthCache) Set(ctx context.Context, serverID string, entry *TokenEntry) error {
	if entry.ValidatedAt.IsZero() {
		entry.ValidatedAt = c.now()
	}
	return c.ns.put(ctx, serverID, entry)
}

// Delete removes a server's entry.
func (c *OAuthCache) Delete(ctx context.Context, serverID string) error {
	return c.ns.delete(ctx, serverID)
}

// Keys lists the server ids that currently have entries.
func (c *OAuthCache) Keys(ctx context.Context) ([]string, error) {
	return c.ns.serverIDs(ctx)
}

// IsTokenCacheValid reports whether currentAccessToken is the token cached as
// valid within the TTL. A mismatching or stale entry is deleted.
func (c *OAuthCache) IsTokenCacheValid(ctx context.Context, serverID, currentAccessToken string) bool {
	entry, err := c.Get(ctx, serverID)
	if err != nil {
		logging.Warn("Cache", "OAuth cache read failed for %s: %v", serverID, err)
		return false
	}
	if entry == nil {
		return false
	}
	if entry.AccessToken != currentAccessToken || c.now().Sub(entry.ValidatedAt) >= c.ns.ttl {
		if err := c.Delete(ctx, serverID); err != nil {
			logging.Warn("Cache", "Failed to drop stale OAuth entry for %s: %v", serverID, err)
		}
		return false
	}
	return true
}

// GetValidatedToken returns the cached entry if it is still within the TTL.
func (c *OAuthCache) GetValidatedToken(ctx context.Context, serverID string) (*TokenEntry, error) {
	entry, err := c.Get(ctx, serverID)
	if err != nil || entry == nil {
		return nil, err
	}
	if c.now().Sub(entry.ValidatedAt) >= c.ns.ttl {
		return nil, nil
	}
	return entry, nil
}

// InvalidateServer drops a server's entry.
func (c *OAuthCache) InvalidateServer(ctx context.Context, serverID string) error {
	return c.Delete(ctx, serverID)
}

// InvalidateAll drops every entry in the namespace and returns how many were removed.
func (c *OAuthCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.ns.invalidateAll(ctx)
}

// GetCacheStats reports the entry count and server ids.
func (c *OAuthCache) GetCacheStats(ctx context.Context) (Stats, error) {
	return c.ns.stats(ctx)
}
