package httpapi

import (
	"errors"
	"net/http"

	"billing-platform/internal/cache"
	"billing-platform/internal/featureflags"
	"billing-platform/internal/pricing"
	"billing-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Pricing *pricing.Engine
	Cache   *cache.BillingCache
	Flags   *featureflags.Service
}

// --- Pricing rules ---

func (h Handlers) CreateRule(c *gin.Context) {
	var req pricing.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Pricing.CreateRule(c.Request.Context(), TenantID(c), req)
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h Handlers) GetRule(c *gin.Context) {
	rule, ok, err := h.Pricing.GetRule(c.Request.Context(), TenantID(c), c.Param("rule_id"))
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h Handlers) ListRules(c *gin.Context) {
	filter := pricing.ListFilter{
		ProductID: c.Query("product_id"),
		Category:  c.Query("category"),
	}
	switch c.Query("active") {
	case "true":
		v := true
		filter.Active = &v
	case "false":
		v := false
		filter.Active = &v
	}
	rules, err := h.Pricing.ListRules(c.Request.Context(), TenantID(c), filter)
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if rules == nil {
		rules = []pricing.PricingRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handlers) UpdateRule(c *gin.Context) {
	var req pricing.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, ok, err := h.Pricing.UpdateRule(c.Request.Context(), TenantID(c), c.Param("rule_id"), req)
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h Handlers) DeleteRule(c *gin.Context) {
	ok, err := h.Pricing.DeleteRule(c.Request.Context(), TenantID(c), c.Param("rule_id"))
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ActivateRule(c *gin.Context)   { h.setRuleActive(c, true) }
func (h Handlers) DeactivateRule(c *gin.Context) { h.setRuleActive(c, false) }

func (h Handlers) setRuleActive(c *gin.Context, active bool) {
	var (
		ok  bool
		err error
	)
	if active {
		ok, err = h.Pricing.ActivateRule(c.Request.Context(), TenantID(c), c.Param("rule_id"))
	} else {
		ok, err = h.Pricing.DeactivateRule(c.Request.Context(), TenantID(c), c.Param("rule_id"))
	}
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_active": active})
}

func (h Handlers) ResetRuleUsage(c *gin.Context) {
	ok, err := h.Pricing.ResetRuleUsage(c.Request.Context(), TenantID(c), c.Param("rule_id"))
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_uses": 0})
}

type bulkRuleRequest struct {
	RuleIDs []string `json:"rule_ids"`
}

func (h Handlers) BulkActivateRules(c *gin.Context)   { h.bulkSetActive(c, true) }
func (h Handlers) BulkDeactivateRules(c *gin.Context) { h.bulkSetActive(c, false) }

func (h Handlers) bulkSetActive(c *gin.Context, active bool) {
	var req bulkRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.RuleIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "rule_ids required"})
		return
	}
	var res pricing.BulkResult
	if active {
		res = h.Pricing.BulkActivateRules(c.Request.Context(), TenantID(c), req.RuleIDs)
	} else {
		res = h.Pricing.BulkDeactivateRules(c.Request.Context(), TenantID(c), req.RuleIDs)
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) DetectRuleConflicts(c *gin.Context) {
	conflicts, err := h.Pricing.DetectRuleConflicts(c.Request.Context(), TenantID(c))
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []pricing.RuleConflict{}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

// --- Price calculation ---

func (h Handlers) CalculatePrice(c *gin.Context) {
	var req pricing.CalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Pricing.CalculatePrice(c.Request.Context(), TenantID(c), req)
	if err != nil {
		abortPricingErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Cache administration ---

func (h Handlers) CacheStats(c *gin.Context) {
	if h.Cache == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	c.JSON(http.StatusOK, h.Cache.Metrics().Stats())
}

func (h Handlers) CacheResetStats(c *gin.Context) {
	if h.Cache == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	h.Cache.Metrics().Reset()
	c.Status(http.StatusNoContent)
}

// CacheInvalidateTenant drops every cached entry for the calling tenant,
// across all entity namespaces and both tiers.
func (h Handlers) CacheInvalidateTenant(c *gin.Context) {
	if h.Cache == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	n := h.Cache.InvalidatePattern(c.Request.Context(), cache.TenantPattern(TenantID(c)))
	c.JSON(http.StatusOK, gin.H{"invalidated": n})
}

func (h Handlers) CacheFlushLocal(c *gin.Context) {
	if h.Cache == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	h.Cache.FlushLocal()
	c.Status(http.StatusNoContent)
}

// --- Feature flags ---

func (h Handlers) ListFlags(c *gin.Context) {
	flags, err := h.Flags.All(c.Request.Context(), TenantID(c))
	if err != nil {
		if errors.Is(err, featureflags.ErrInvalidFlag) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "flag lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

func (h Handlers) GetFlag(c *gin.Context) {
	enabled := h.Flags.IsEnabled(c.Request.Context(), TenantID(c), c.Param("flag"))
	c.JSON(http.StatusOK, gin.H{"flag": c.Param("flag"), "enabled": enabled})
}

type setFlagRequest struct {
	Enabled bool `json:"enabled"`
}

func (h Handlers) SetFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var err error
	if req.Enabled {
		err = h.Flags.Enable(c.Request.Context(), TenantID(c), c.Param("flag"))
	} else {
		err = h.Flags.Disable(c.Request.Context(), TenantID(c), c.Param("flag"))
	}
	if err != nil {
		if errors.Is(err, featureflags.ErrInvalidFlag) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "flag write failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flag": c.Param("flag"), "enabled": req.Enabled})
}

func (h Handlers) DeleteFlag(c *gin.Context) {
	removed, err := h.Flags.Remove(c.Request.Context(), TenantID(c), c.Param("flag"))
	if err != nil {
		if errors.Is(err, featureflags.ErrInvalidFlag) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "flag delete failed"})
		return
	}
	if !removed {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "flag not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// abortPricingErr maps pricing sentinel errors to HTTP statuses. Anything
// unmapped is a 500 with a generic message; the real error stays in the
// request log only.
func abortPricingErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidRequest), errors.Is(err, pricing.ErrUnsupportedDiscountType):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pricing.ErrProductNotFound), errors.Is(err, pricing.ErrRuleNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("pricing request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
