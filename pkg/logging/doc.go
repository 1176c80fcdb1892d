// Package logging provides subsystem-tagged, printf-style logging on top of
// Go's log/slog.
//
// Every entry carries a "subsystem" attribute so output from the OAuth,
// connection and cache layers can be filtered independently.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("ConnectionManager", "Capabilities for %s served from cache", serverID)
//	logging.Debug("Transport", "POST %s status=%d", url, status)
//	logging.Error("TokenLifecycle", err, "Refresh failed for server %s", serverID)
//
// The serve command uses InitForServer, optionally with JSON output.
//
// # Secrets
//
// Tokens and session ids must never be logged verbatim. Use RedactToken and
// TruncateSessionID when a value is needed for correlation.
package logging
