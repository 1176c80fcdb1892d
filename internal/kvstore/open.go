package kvstore

import (
	"fmt"

	"mcpconnect/internal/config"
)

// Open builds the Store selected by the cache configuration.
func Open(cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendValkey:
		return NewValkey(cfg.ValkeyAddress)
	case config.CacheBackendSQLite:
		return NewSQLite(cfg.SQLitePath)
	case config.CacheBackendMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
