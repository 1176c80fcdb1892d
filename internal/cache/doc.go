// Package cache provides the two cache namespaces layered on a shared
// kvstore.Store: capability snapshots under "mcp:tools:" (zstd-compressed,
// two hour TTL) and token validation results under "mcp:oauth:"
// (uncompressed, thirty minute TTL).
//
// Read failures are reported as misses by the validity helpers so a cache
// outage degrades to live lookups instead of failing requests.
package cache
