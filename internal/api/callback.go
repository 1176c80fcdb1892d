package api

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"mcpconnect/internal/oauth"
	"mcpconnect/pkg/logging"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - mcpconnect</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: #101827; color: #e5e7eb; min-height: 100vh; margin: 0;
               display: flex; align-items: center; justify-content: center; }
        .card { text-align: center; padding: 2.5rem; max-width: 480px; border-radius: 12px;
                border: 1px solid #374151; background: #1f2937; }
        .icon { font-size: 2.5rem; color: {{if .OK}}#34d399{{else}}#f87171{{end}}; }
        .server { color: #34d399; font-weight: 600; }
        .message { color: #f87171; }
        p { color: #9ca3af; line-height: 1.6; }
    </style>
</head>
<body>
    <div class="card">
        <div class="icon">{{if .OK}}✓{{else}}✕{{end}}</div>
        <h1>{{.Title}}</h1>
        {{if .OK}}<p>Connected to <span class="server">{{.Server}}</span>.</p>
        <p>You can close this window and retry the previous action.</p>
        {{else}}<p class="message">{{.Message}}</p>
        <p>Return to the application and start the connection again.</p>{{end}}
    </div>
</body>
</html>`))

type callbackView struct {
	OK      bool
	Title   string
	Server  string
	Message string
}

func (h *handlers) oauthCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	if errParam := c.Query("error"); errParam != "" {
		logging.Warn("API", "OAuth callback received error: %s - %s", errParam, c.Query("error_description"))
		renderCallback(c, http.StatusBadRequest, callbackView{Title: "Authorization Failed",
			Message: "The authorization server reported: " + firstNonEmpty(c.Query("error_description"), errParam)})
		return
	}
	if code == "" || state == "" {
		renderCallback(c, http.StatusBadRequest, callbackView{Title: "Authorization Failed",
			Message: "The callback is missing the code or state parameter."})
		return
	}

	result, err := h.deps.Exchanger.Exchange(c.Request.Context(), code, state)
	switch {
	case errors.Is(err, oauth.ErrStateNotFound):
		logging.Warn("API", "OAuth callback with unknown or expired state")
		renderCallback(c, http.StatusBadRequest, callbackView{Title: "Authorization Failed",
			Message: "This authorization attempt expired. Please try again."})
		return
	case err != nil:
		logging.Error("API", err, "Failed to exchange authorization code")
		renderCallback(c, http.StatusBadGateway, callbackView{Title: "Authorization Failed",
			Message: "The authorization code could not be exchanged for a token."})
		return
	}

	server := "the MCP server"
	if result.Record != nil {
		server = firstNonEmpty(result.Record.Name, result.Record.URL)
		// Tools may differ once authorized.
		if err := h.deps.Manager.InvalidateServerCache(c.Request.Context(), result.Record.ID); err != nil {
			logging.Warn("API", "Could not invalidate tool cache for %s: %v", result.Record.ID, err)
		}
	}
	logging.Info("API", "Authorization completed for %s", server)
	renderCallback(c, http.StatusOK, callbackView{OK: true, Title: "Authorization Successful", Server: server})
}

func renderCallback(c *gin.Context, status int, view callbackView) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	c.Header("Referrer-Policy", "no-referrer")
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := callbackPage.Execute(c.Writer, view); err != nil {
		logging.Error("API", err, "Failed to render callback page")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
