// Package config provides configuration management for mcpconnect.
//
// Configuration is loaded from a single directory (default ~/.config/mcpconnect,
// overridable with --config-path) containing config.yaml. Missing files fall
// back to GetDefaultConfig.
//
// # Precedence
//
//  1. defaults
//  2. config.yaml
//  3. .env in the working directory (loaded into the process environment)
//     and MCPCONNECT_* environment variables
//
// # Environment
//
// The environment field selects the OAuth redirect URI: localhost during
// development and the fixed production callback otherwise. Scopes default to
// "read write" and the client display name is fixed per deployment.
package config
