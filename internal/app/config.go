package app

import (
	"mcpconnect/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Quiet discards log output. Used by CLI commands that print tables.
	Quiet bool

	// Server selects server logging (JSON when api.jsonLogs is set).
	Server bool

	// ConfigPath is the directory holding config.yaml.
	ConfigPath string

	// Loaded configuration. When set before NewApplication, loading is skipped.
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug, quiet bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Quiet:      quiet,
		ConfigPath: configPath,
	}
}
