package servers

import (
	"fmt"

	"mcpconnect/internal/config"
)

// Open builds the Store selected by the servers configuration.
func Open(cfg config.ServersConfig) (Store, error) {
	switch cfg.Store {
	case config.ServerStoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.ServerStoreFile, "":
		return NewFileStore(cfg.File)
	default:
		return nil, fmt.Errorf("unknown server store %q", cfg.Store)
	}
}
