package cache

import (
	"context"
	"time"

	"mcpconnect/internal/catalog"
	"mcpconnect/internal/kvstore"
	"mcpconnect/pkg/logging"
)

const (
	// ToolsPrefix namespaces capability entries in the shared store.
	ToolsPrefix = "mcp:tools:"

	// DefaultToolsTTL is how long capability entries stay valid.
	DefaultToolsTTL = 2 * time.Hour
)

// Capabilities records which MCP features a server advertised.
type Capabilities struct {
	Tools           bool `json:"tools"`
	Resources       bool `json:"resources"`
	Prompts         bool `json:"prompts"`
	RootListChanged bool `json:"rootListChanged"`
}

// CapabilityEntry is a cached snapshot of a server's tools and capabilities.
// Presence means the capabilities were valid at CachedAt.
type CapabilityEntry struct {
	Tools         []catalog.ToolMetadata `json:"tools"`
	Capabilities  Capabilities           `json:"capabilities"`
	CachedAt      time.Time              `json:"cachedAt"`
	ServerVersion string                 `json:"serverVersion,omitempty"`
	ServerURL     string                 `json:"serverUrl"`
}

// ToolCache stores capability entries under ToolsPrefix with compression.
type ToolCache struct {
	ns  namespace
	now func() time.Time
}

// ToolCacheOption configures a ToolCache.
type ToolCacheOption func(*ToolCache)

// WithToolsClock overrides the time source used for age checks.
func WithToolsClock(now func() time.Time) ToolCacheOption {
	return func(c *ToolCache) { c.now = now }
}

// NewToolCache creates a tool cache over store. ttl <= 0 selects DefaultToolsTTL.
func NewToolCache(store kvstore.Store, ttl time.Duration, opts ...ToolCacheOption) *ToolCache {
	if ttl <= 0 {
		ttl = DefaultToolsTTL
	}
	c := &ToolCache{
		ns:  namespace{store: store, prefix: ToolsPrefix, ttl: ttl, compress: true},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *ToolCache) TTL() time.Duration {
	return c.ns.ttl
}

// Get returns the cached entry for a server, or nil on a miss.
func (c *ToolCache) Get(ctx context.Context, serverID string) (*CapabilityEntry, error) {
	var entry CapabilityEntry
	ok, err := c.ns.get(ctx, serverID, &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

// Set stores an entry. A zero CachedAt is stamped with the current time.
func (c *ToolCache) Set(ctx context.Context, serverID string, entry *CapabilityEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.now()
	}
	if err := c.ns.put(ctx, serverID, entry); err != nil {
		return err
	}
	logging.Debug("Cache", "Cached %d tools for server %s", len(entry.Tools), serverID)
	return nil
}

// Delete removes a server's entry.
func (c *ToolCache) Delete(ctx context.Context, serverID string) error {
	return c.ns.delete(ctx, serverID)
}

// Keys lists the server ids that currently have entries.
func (c *ToolCache) Keys(ctx context.Context) ([]string, error) {
	return c.ns.serverIDs(ctx)
}

// IsEntryValid applies the validity rule to an entry already in hand: when
// both sides know a version, versions must match; otherwise the entry must be
// younger than the TTL.
func (c *ToolCache) IsEntryValid(entry *CapabilityEntry, currentServerVersion string) bool {
	if entry == nil {
		return false
	}
	if entry.ServerVersion != "" && currentServerVersion != "" {
		return entry.ServerVersion == currentServerVersion
	}
	return c.now().Sub(entry.CachedAt) < c.ns.ttl
}

// IsCacheValid reports whether the server has a usable entry.
func (c *ToolCache) IsCacheValid(ctx context.Context, serverID, currentServerVersion string) bool {
	entry, err := c.Get(ctx, serverID)
	if err != nil {
		logging.Warn("Cache", "Tool cache read failed for %s: %v", serverID, err)
		return false
	}
	return c.IsEntryValid(entry, currentServerVersion)
}

// Lookup returns the entry only if it is valid.
func (c *ToolCache) Lookup(ctx context.Context, serverID, currentServerVersion string) (*CapabilityEntry, bool) {
	entry, err := c.Get(ctx, serverID)
	if err != nil {
		logging.Warn("Cache", "Tool cache read failed for %s: %v", serverID, err)
		return nil, false
	}
	if !c.IsEntryValid(entry, currentServerVersion) {
		return nil, false
	}
	return entry, true
}

// InvalidateServer drops a server's entry.
func (c *ToolCache) InvalidateServer(ctx context.Context, serverID string) error {
	return c.Delete(ctx, serverID)
}

// InvalidateAll drops every entry in the namespace and returns how many were removed.
func (c *ToolCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.ns.invalidateAll(ctx)
}

// GetCacheStats reports the entry count and server ids.
func (c *ToolCache) GetCacheStats(ctx context.Context) (Stats, error) {
	return c.ns.stats(ctx)
}
