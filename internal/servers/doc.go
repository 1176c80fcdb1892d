// Package servers holds the user's MCP server registrations.
//
// A Record carries the endpoint, enablement and OAuth credentials for one
// server. The token lifecycle and discovery code mutate AuthStatus and the
// token fields; everything else is owned by whoever registers servers.
//
// Two Store implementations are provided:
//
//   - FileStore: a YAML registry file, optionally hot-reloaded with Watch.
//   - SQLiteStore: a table in a SQLite database shared by instances on one host.
package servers
