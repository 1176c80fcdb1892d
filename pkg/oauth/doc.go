// Package oauth holds the protocol-level OAuth 2.1 pieces used to connect to
// third-party MCP servers.
//
// # Core Components
//
//   - Token: OAuth token representation with expiry checking
//   - Metadata: authorization server metadata (RFC 8414)
//   - ProtectedResourceMetadata: resource server metadata (RFC 9728)
//   - AuthChallenge: a parsed WWW-Authenticate Bearer challenge
//   - PKCE and state generation (RFC 7636)
//   - Client: cached discovery of the documents above plus dynamic client
//     registration (RFC 7591)
//
// The Client caches every discovery response, including negative ones, per
// request URL for DefaultMetadataCacheTTL, and collapses concurrent fetches of
// the same URL into one request.
//
// # Usage
//
//	challenge, _ := oauth.ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	prm, err := client.FetchProtectedResourceMetadata(ctx, challenge.ResourceMetadataURL)
//	md, err := client.ResolveMetadata(ctx, prm.AuthorizationServers[0], resourceURL)
//
// Orchestration (which fallback to try next, persisting PKCE state, token
// refresh) lives in internal/oauth.
package oauth
