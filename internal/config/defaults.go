package config

import "time"

const (
	// DefaultOAuthCallbackPath is the path the API serves OAuth callbacks on.
	DefaultOAuthCallbackPath = "/oauth/callback"

	DefaultClientName        = "MCP Connect Client"
	DefaultShortClientName   = "mcpconnect"
	DefaultGenericClientName = "mcp-client"

	DefaultToolsTTL = 2 * time.Hour
	DefaultOAuthTTL = 30 * time.Minute
	DefaultStateTTL = 10 * time.Minute

	DefaultHTTPTimeout     = 30 * time.Second
	DefaultSlowHostTimeout = 120 * time.Second
	DefaultSSEToolTimeout  = 60 * time.Second
	DefaultMaxRetries      = 2
)

// ClientVersion is reported as clientInfo.version in MCP initialize
// requests. main overrides it at build time.
var ClientVersion = "dev"

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() Config {
	return Config{
		Environment: EnvironmentDevelopment,
		LogLevel:    "info",
		OAuth: OAuthConfig{
			ClientName:        DefaultClientName,
			ShortClientName:   DefaultShortClientName,
			GenericClientName: DefaultGenericClientName,
			DefaultClientID:   DefaultShortClientName,
			Scopes:            []string{"read", "write"},
			DevRedirectURI:    "http://localhost:3000" + DefaultOAuthCallbackPath,
			ProdRedirectURI:   "https://app.mcpconnect.dev" + DefaultOAuthCallbackPath,
			StateTTL:          DefaultStateTTL,
			PreemptiveRefresh: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:  CacheBackendMemory,
			ToolsTTL: DefaultToolsTTL,
			OAuthTTL: DefaultOAuthTTL,
		},
		Servers: ServersConfig{
			Store: ServerStoreFile,
			File:  "servers.yaml",
		},
		Connection: ConnectionConfig{
			HTTPTimeout:     DefaultHTTPTimeout,
			SlowHostTimeout: DefaultSlowHostTimeout,
			SSEToolTimeout:  DefaultSSEToolTimeout,
			MaxRetries:      DefaultMaxRetries,
		},
		Telemetry: TelemetryConfig{Sink: TelemetrySinkLog},
		API:       APIConfig{ListenAddress: "127.0.0.1:3000"},
	}
}
