// Package api exposes mcpconnect over HTTP with gin.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /oauth/callback?code=&state=
//	GET    /api/servers/status
//	GET    /api/servers/:id/capabilities
//	POST   /api/servers/:id/test
//	GET    /api/cache/stats
//	DELETE /api/cache/:id
//	GET    /api/users/:user/tools
//	POST   /api/users/:user/tools/call
//
// Server routes act on behalf of the user named by the X-User-ID header or the
// user query parameter. Authentication of API callers is left to the
// deployment (a reverse proxy or a private listen address).
package api
