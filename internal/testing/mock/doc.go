// Package mock provides in-process servers for exercising the MCP connection
// layer without real third-party endpoints.
//
// MCPServer speaks JSON-RPC over plain HTTP POST. Its quirks are opt-in:
// ping support, header-picky 406 responses, Streamable-HTTP session ids,
// text/event-stream framed replies and bearer-token protection with a
// WWW-Authenticate challenge.
//
// OAuthServer is an authorization server that publishes RFC 8414 metadata,
// accepts RFC 7591 registrations and issues tokens for authorization_code
// and refresh_token grants. It can restrict the client ids it accepts and can
// serve its token endpoint under a path other than the advertised one.
//
// NewSSEServer starts an mcp-go SSE server for the SSE transport.
//
// All servers are httptest based and are closed with t.Cleanup.
package mock
