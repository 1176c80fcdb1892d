// Package connection talks to third-party MCP servers.
//
// Manager fetches capabilities and runs tool calls. The transport is chosen
// from the server URL: paths ending in /sse or /events use a short-lived
// mcp-go SSE client, everything else uses JSON-RPC over HTTP POST.
//
// HTTPTransport handles the quirks of real servers:
//
//   - 406 Not Acceptable is retried with Accept: */* and then with no Accept
//     header; the variant that worked is remembered per server.
//   - Mcp-Session-Id from initialize is replayed on later requests. A 404 on
//     a session clears it and yields ErrSessionExpired so the caller can
//     initialize again. A 400 before any session exists yields
//     ErrSessionRequired, which is handled the same way.
//   - Responses may be plain JSON or text/event-stream, single or batched.
//   - Hosts listed as slow get a longer timeout.
//
// Capabilities are cached in the shared tool cache. Live status is kept in a
// LivenessTable that belongs to this process only.
package connection
