// Package app wires mcpconnect together.
//
// NewApplication loads configuration, initializes logging and builds every
// long-lived component in dependency order:
//
//  1. the shared keyed-TTL store and the server record store
//  2. the PKCE store, OAuth metadata client, discoverer and token manager
//  3. the tool and OAuth caches
//  4. the connection manager, tool catalog, telemetry and tool execution service
//
// The CLI uses the resulting Services directly. The serve command
// additionally starts the HTTP API with Application.Serve, which blocks until
// the context is cancelled or SIGINT/SIGTERM arrives.
package app
