package httpapi

import (
	"net/http"
	"strings"
	"time"

	"billing-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const tenantContextKey = "tenant_id"

// TenantMiddleware requires an X-Tenant-Id header on every request and makes
// it available to handlers. Every downstream read and write is scoped by it.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-Id header required"})
			return
		}
		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant set by TenantMiddleware, or "" when the
// middleware did not run.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

// CalcCapMiddleware caps in-flight price calculations per tenant. Must run
// after TenantMiddleware. When redis is unreachable the request proceeds;
// the cap protects capacity, it is not a correctness guard.
func CalcCapMiddleware(rdb *redis.Client, limit int, slotTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		ok, err := utils.AcquireCalcSlot(c.Request.Context(), rdb, tenantID, limit, slotTTL)
		if err != nil {
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "calculation limit reached, retry shortly"})
			return
		}
		defer func() {
			_ = utils.ReleaseCalcSlot(c.Request.Context(), rdb, tenantID)
		}()
		c.Next()
	}
}
