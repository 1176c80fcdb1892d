package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mcpconnect/internal/connection"
	"mcpconnect/internal/toolexec"
	"mcpconnect/pkg/logging"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "mcpconnect",
	})
}

func (h *handlers) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.deps.Manager.Liveness().Snapshot()})
}

func (h *handlers) capabilities(c *gin.Context) {
	res := h.deps.Manager.GetServerCapabilities(c.Request.Context(), c.Param("id"), c.GetString(userKey))
	c.JSON(capabilitiesStatus(res), res)
}

func (h *handlers) testConnection(c *gin.Context) {
	res := h.deps.Manager.TestConnection(c.Request.Context(), c.Param("id"), c.GetString(userKey))
	c.JSON(capabilitiesStatus(res), res)
}

func capabilitiesStatus(res *connection.CapabilitiesResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.RequiresAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func (h *handlers) cacheStats(c *gin.Context) {
	ctx := c.Request.Context()
	tools, err := h.deps.Manager.GetCacheStats(ctx)
	if err != nil {
		internalError(c, "reading tool cache stats", err)
		return
	}
	body := gin.H{"tools": tools}
	if h.deps.OAuthCache != nil {
		tokens, err := h.deps.OAuthCache.GetCacheStats(ctx)
		if err != nil {
			internalError(c, "reading oauth cache stats", err)
			return
		}
		body["oauth"] = tokens
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) invalidateCache(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.deps.Manager.InvalidateServerCache(ctx, id); err != nil {
		internalError(c, "invalidating tool cache", err)
		return
	}
	if h.deps.OAuthCache != nil {
		if err := h.deps.OAuthCache.InvalidateServer(ctx, id); err != nil {
			internalError(c, "invalidating oauth cache", err)
			return
		}
	}
	if h.deps.Discoverer != nil {
		h.deps.Discoverer.Client().ClearMetadataCache()
	}
	h.deps.ToolExec.Catalog().Remove(id)
	c.Status(http.StatusNoContent)
}

func (h *handlers) discoverTools(c *gin.Context) {
	d, err := h.deps.ToolExec.DiscoverTools(c.Request.Context(), c.Param("user"))
	if err != nil {
		internalError(c, "discovering tools", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type callToolRequest struct {
	ServerID  string         `json:"serverId"`
	ToolName  string         `json:"toolName" binding:"required"`
	Arguments map[string]any `json:"arguments"`
}

func (h *handlers) callTool(c *gin.Context) {
	var req callToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	res := h.deps.ToolExec.ExecuteTool(c.Request.Context(), toolexec.Request{
		UserID:    c.Param("user"),
		ServerID:  req.ServerID,
		ToolName:  req.ToolName,
		Arguments: req.Arguments,
	})

	status := http.StatusOK
	if res.Error != nil && res.Error.RequiresAuth {
		status = http.StatusUnauthorized
	}
	c.JSON(status, res)
}

func internalError(c *gin.Context, action string, err error) {
	logging.Error("API", err, "Failed %s", action)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
