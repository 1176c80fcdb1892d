package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcpconnect/internal/cache"
	"mcpconnect/internal/connection"
	"mcpconnect/internal/oauth"
	"mcpconnect/internal/toolexec"
	"mcpconnect/pkg/logging"
)

// Deps are the components the handlers call into.
type Deps struct {
	Manager    *connection.Manager
	ToolExec   *toolexec.Service
	Exchanger  *oauth.Exchanger
	OAuthCache *cache.OAuthCache
	// Discoverer's metadata cache is dropped with a server's cache. Optional.
	Discoverer *oauth.Discoverer
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	// CallbackPath overrides the OAuth callback route.
	CallbackPath string
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := &handlers{deps: deps}

	router.GET("/healthz", h.health)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	callbackPath := deps.CallbackPath
	if callbackPath == "" {
		callbackPath = "/oauth/callback"
	}
	router.GET(callbackPath, h.oauthCallback)

	v1 := router.Group("/api")
	srv := v1.Group("/servers")
	{
		srv.GET("/status", h.liveness)
		srv.GET("/:id/capabilities", requireUser(), h.capabilities)
		srv.POST("/:id/test", requireUser(), h.testConnection)
	}
	c := v1.Group("/cache")
	{
		c.GET("/stats", h.cacheStats)
		c.DELETE("/:id", h.invalidateCache)
	}
	users := v1.Group("/users/:user")
	{
		users.GET("/tools", h.discoverTools)
		users.POST("/tools/call", h.callTool)
	}

	return router
}

const userKey = "user_id"

// requireUser resolves the acting user from X-User-ID or ?user.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader("X-User-ID")
		if user == "" {
			user = c.Query("user")
		}
		if user == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "missing_user",
				"message": "Set the X-User-ID header or the user query parameter",
			})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("API", "%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), logging.Since(start))
	}
}
