// Package server runs the mcpconnect HTTP API.
//
// Server binds the listener up front so the actual address is known before
// serving, reports readiness and shutdown to systemd when NOTIFY_SOCKET is set,
// and drains in-flight requests for up to ShutdownTimeout once its context is
// cancelled.
package server
