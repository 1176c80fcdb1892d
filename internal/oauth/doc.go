// Package oauth authorizes this client against third-party MCP servers.
//
// # Flow
//
//  1. A server answers 401 with a WWW-Authenticate challenge.
//  2. Discoverer resolves its authorization server (as_uri, RFC 9728
//     protected resource metadata, or the server origin), reads RFC 8414
//     metadata, optionally registers a client (RFC 7591) and returns an
//     authorization URL carrying an S256 PKCE challenge and a random state.
//  3. The verifier is kept in PKCEStore, keyed by state, in the shared
//     kvstore so any instance can serve the callback.
//  4. Exchanger.Exchange consumes the state, trades the code for tokens and
//     persists them onto the server record.
//
// TokenManager keeps those tokens usable: it validates them with a live
// initialize request, refreshes them before they expire and walks the
// configured alternative client ids when a token endpoint rejects the stored
// one. Grants that can never succeed are cleared and the server is flipped to
// authStatus "required".
//
// # Security
//
// States are single-use: PKCEStore.Retrieve deletes the entry before
// returning it. Tokens never reach the logs; use logging.RedactToken.
package oauth
