package config

import "time"

// Environment selects deployment-specific settings such as the OAuth redirect URI.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendValkey = "valkey"
	CacheBackendSQLite = "sqlite"
)

// Server record stores.
const (
	ServerStoreFile   = "file"
	ServerStoreSQLite = "sqlite"
)

// Telemetry sinks.
const (
	TelemetrySinkLog        = "log"
	TelemetrySinkPrometheus = "prometheus"
	TelemetrySinkNone       = "none"
)

// Config is the top-level configuration structure for mcpconnect.
type Config struct {
	Environment Environment      `yaml:"environment"`
	LogLevel    string           `yaml:"logLevel,omitempty"`
	OAuth       OAuthConfig      `yaml:"oauth"`
	Cache       CacheConfig      `yaml:"cache"`
	Servers     ServersConfig    `yaml:"servers"`
	Connection  ConnectionConfig `yaml:"connection"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	API         APIConfig        `yaml:"api"`
}

// OAuthConfig describes how this client presents itself to authorization servers.
type OAuthConfig struct {
	// ClientName is the full display name used for dynamic registration and
	// as the first alternative client id during refresh.
	ClientName string `yaml:"clientName"`
	// ShortClientName and GenericClientName are further refresh fallbacks.
	ShortClientName   string   `yaml:"shortClientName"`
	GenericClientName string   `yaml:"genericClientName"`
	DefaultClientID   string   `yaml:"defaultClientId"`
	Scopes            []string `yaml:"scopes"`
	DevRedirectURI    string   `yaml:"devRedirectUri"`
	ProdRedirectURI   string   `yaml:"prodRedirectUri"`
	// StateTTL bounds how long a PKCE entry may wait for its callback.
	StateTTL time.Duration `yaml:"stateTtl,omitempty"`
	// PreemptiveRefresh is the window before expiry in which tokens are refreshed.
	PreemptiveRefresh time.Duration `yaml:"preemptiveRefresh,omitempty"`
	// FailClosedValidation treats ambiguous token validation as invalid.
	FailClosedValidation bool `yaml:"failClosedValidation,omitempty"`
}

// CacheConfig selects the shared keyed-TTL store and the two cache TTLs.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	ValkeyAddress string        `yaml:"valkeyAddress,omitempty"`
	SQLitePath    string        `yaml:"sqlitePath,omitempty"`
	ToolsTTL      time.Duration `yaml:"toolsTtl,omitempty"`
	OAuthTTL      time.Duration `yaml:"oauthTtl,omitempty"`
}

// ServersConfig selects where server records live.
type ServersConfig struct {
	Store      string `yaml:"store"`
	File       string `yaml:"file,omitempty"`
	SQLitePath string `yaml:"sqlitePath,omitempty"`
}

// ConnectionConfig tunes the transports and retry policy.
type ConnectionConfig struct {
	HTTPTimeout     time.Duration `yaml:"httpTimeout,omitempty"`
	SlowHostTimeout time.Duration `yaml:"slowHostTimeout,omitempty"`
	// SlowHosts are host suffixes that get SlowHostTimeout.
	SlowHosts      []string      `yaml:"slowHosts,omitempty"`
	SSEToolTimeout time.Duration `yaml:"sseToolTimeout,omitempty"`
	MaxRetries     int           `yaml:"maxRetries"`
}

// TelemetryConfig selects the telemetry sink.
type TelemetryConfig struct {
	Sink string `yaml:"sink"`
}

// APIConfig configures the HTTP surface started by `serve`.
type APIConfig struct {
	ListenAddress string `yaml:"listenAddress"`
	JSONLogs      bool   `yaml:"jsonLogs,omitempty"`
}

// RedirectURI returns the OAuth redirect URI for the configured environment.
func (c Config) RedirectURI() string {
	if c.Environment == EnvironmentProduction {
		return c.OAuth.ProdRedirectURI
	}
	return c.OAuth.DevRedirectURI
}

// AlternativeClientIDs is the ordered list tried when a token endpoint rejects
// the stored client id with invalid_client. The empty string is last.
func (c Config) AlternativeClientIDs() []string {
	return []string{c.OAuth.ClientName, c.OAuth.ShortClientName, c.OAuth.GenericClientName, ""}
}
