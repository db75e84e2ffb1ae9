package main

import (
	"database/sql"
	"time"

	"billing-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	handlers httpapi.Handlers
	db       *sql.DB
	rdb      *redis.Client
}

// Per-tenant in-flight calculation cap. Slots self-expire so a crashed
// process cannot pin a tenant at its limit.
const (
	calcCapLimit   = 50
	calcCapSlotTTL = 30 * time.Second
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", healthCheck(deps.db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := deps.handlers

	// tenant-scoped API group
	v1 := r.Group("/v1")
	v1.Use(httpapi.TenantMiddleware())
	{
		// PRICING RULE routes
		rules := v1.Group("/pricing/rules")
		{
			rules.POST("", h.CreateRule)
			rules.GET("", h.ListRules)
			rules.GET("/conflicts", h.DetectRuleConflicts)
			rules.POST("/bulk-activate", h.BulkActivateRules)
			rules.POST("/bulk-deactivate", h.BulkDeactivateRules)
			rules.GET("/:rule_id", h.GetRule)
			rules.PATCH("/:rule_id", h.UpdateRule)
			rules.DELETE("/:rule_id", h.DeleteRule)
			rules.POST("/:rule_id/activate", h.ActivateRule)
			rules.POST("/:rule_id/deactivate", h.DeactivateRule)
			rules.POST("/:rule_id/reset-usage", h.ResetRuleUsage)
		}

		// CALCULATION route
		calculate := v1.Group("/pricing")
		if deps.rdb != nil {
			calculate.Use(httpapi.CalcCapMiddleware(deps.rdb, calcCapLimit, calcCapSlotTTL))
		}
		calculate.POST("/calculate", h.CalculatePrice)

		// FEATURE FLAG routes
		if h.Flags != nil {
			flags := v1.Group("/flags")
			{
				flags.GET("", h.ListFlags)
				flags.GET("/:flag", h.GetFlag)
				flags.PUT("/:flag", h.SetFlag)
				flags.DELETE("/:flag", h.DeleteFlag)
			}
		}

		// ADMIN cache routes
		admin := v1.Group("/admin/cache")
		{
			admin.GET("/stats", h.CacheStats)
			admin.POST("/stats/reset", h.CacheResetStats)
			admin.POST("/invalidate", h.CacheInvalidateTenant)
			admin.POST("/flush-local", h.CacheFlushLocal)
		}
	}
}
