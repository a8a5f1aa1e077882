package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tokenmeter/tokenmeter/internal/http/api/handlers"
	"github.com/tokenmeter/tokenmeter/internal/limits"
	"github.com/tokenmeter/tokenmeter/internal/ratelimit"
	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// RegisterRoutes mounts the metering API on the engine.
func RegisterRoutes(engine *gin.Engine, limiter *ratelimit.Limiter, ledger *usage.Ledger, store *limits.Store) {
	rateLimitHandler := handlers.NewRateLimitHandler(limiter)
	usageHandler := handlers.NewUsageHandler(ledger)
	limitsHandler := handlers.NewLimitsHandler(store)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		tenant := v1.Group("/tenants/:tenant")
		tenant.POST("/check", rateLimitHandler.Check)
		tenant.GET("/ratelimit", rateLimitHandler.Status)
		tenant.POST("/usage", usageHandler.Record)
		tenant.GET("/usage/stats", usageHandler.Stats)
		tenant.GET("/limits", limitsHandler.Get)
		tenant.PUT("/limits", limitsHandler.Update)
	}
}
