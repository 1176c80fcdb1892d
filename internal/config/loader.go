package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mcpconnect/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpconnect"
	configFileName = "config.yaml"
	envFileName    = ".env"
)

// Environment variables that override config.yaml.
const (
	EnvEnvironment   = "MCPCONNECT_ENV"
	EnvLogLevel      = "MCPCONNECT_LOG_LEVEL"
	EnvValkeyAddress = "MCPCONNECT_VALKEY_ADDR"
	EnvSQLitePath    = "MCPCONNECT_SQLITE_PATH"
	EnvListenAddress = "MCPCONNECT_LISTEN"
)

// GetDefaultConfigPath returns ~/.config/mcpconnect.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads configuration from a single directory.
// A .env file in the working directory is applied to the process environment
// first, then config.yaml is layered over defaults, then MCPCONNECT_* variables
// override individual fields. Relative file paths resolve against configPath.
func LoadConfig(configPath string) (Config, error) {
	if err := godotenv.Load(envFileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Config", "Ignoring unreadable %s: %v", envFileName, err)
	}

	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	applyEnvOverrides(&config)
	resolvePaths(&config, configPath)

	if errs := Validate(config); errs.HasErrors() {
		return Config{}, fmt.Errorf("invalid configuration in %s: %w", configFilePath, errs)
	}
	return config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvValkeyAddress); v != "" {
		c.Cache.Backend = CacheBackendValkey
		c.Cache.ValkeyAddress = v
	}
	if v := os.Getenv(EnvSQLitePath); v != "" {
		c.Cache.SQLitePath = v
		c.Servers.SQLitePath = v
	}
	if v := os.Getenv(EnvListenAddress); v != "" {
		c.API.ListenAddress = v
	}
	if v := os.Getenv("MCPCONNECT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connection.MaxRetries = n
		}
	}
}

func resolvePaths(c *Config, base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Servers.File = resolve(c.Servers.File)
	c.Servers.SQLitePath = resolve(c.Servers.SQLitePath)
	c.Cache.SQLitePath = resolve(c.Cache.SQLitePath)
}
