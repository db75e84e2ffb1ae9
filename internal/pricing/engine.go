package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"billing-platform/internal/audit"
	"billing-platform/internal/cache"
	"billing-platform/internal/catalog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine owns pricing rule CRUD and price calculation for all tenants.
//
// Contract:
// - Every operation is tenant-scoped; a rule from another tenant is absent.
// - Not-found is reported via (zero, false/nil), never as an error.
// - Cache and audit are optional collaborators; a nil cache means every read
//   goes to the repository, a nil audit service skips usage records.
type Engine struct {
	repo     Repository
	products catalog.Repository
	cache    *cache.BillingCache
	audit    *audit.Service
	clock    func() time.Time
	log      *slog.Logger
}

func NewEngine(repo Repository, products catalog.Repository, bc *cache.BillingCache, aud *audit.Service) *Engine {
	return &Engine{
		repo:     repo,
		products: products,
		cache:    bc,
		audit:    aud,
		clock:    time.Now,
		log:      slog.Default(),
	}
}

func (e *Engine) CreateRule(ctx context.Context, tenantID string, req CreateRuleRequest) (PricingRule, error) {
	if tenantID == "" {
		return PricingRule{}, ErrInvalidRequest
	}
	if err := validateCreate(req); err != nil {
		return PricingRule{}, err
	}

	now := e.clock().UTC()
	rule := PricingRule{
		ID:                  uuid.NewString(),
		TenantID:            tenantID,
		Name:                req.Name,
		Description:         req.Description,
		AppliesToProductIDs: dedupe(req.AppliesToProductIDs),
		AppliesToCategories: dedupe(req.AppliesToCategories),
		AppliesToAll:        req.AppliesToAll,
		MinQuantity:         req.MinQuantity,
		CustomerSegments:    dedupe(req.CustomerSegments),
		StartsAt:            req.StartsAt,
		EndsAt:              req.EndsAt,
		MaxUses:             req.MaxUses,
		DiscountType:        req.DiscountType,
		DiscountValue:       req.DiscountValue,
		Priority:            req.Priority,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if rule.MinQuantity < 1 {
		rule.MinQuantity = 1
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := e.repo.Insert(ctx, rule); err != nil {
		return PricingRule{}, err
	}
	e.invalidateRuleCache(ctx, tenantID)
	e.auditAdmin(ctx, tenantID, rule.ID, "rule created")
	return rule, nil
}

func (e *Engine) GetRule(ctx context.Context, tenantID, ruleID string) (PricingRule, bool, error) {
	if tenantID == "" || ruleID == "" {
		return PricingRule{}, false, ErrInvalidRequest
	}
	return e.repo.FindByID(ctx, tenantID, ruleID)
}

func (e *Engine) ListRules(ctx context.Context, tenantID string, filter ListFilter) ([]PricingRule, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	return e.repo.List(ctx, tenantID, filter)
}

// UpdateRule applies a partial update. The second return is false when the
// rule does not exist for this tenant.
func (e *Engine) UpdateRule(ctx context.Context, tenantID, ruleID string, req UpdateRuleRequest) (PricingRule, bool, error) {
	if tenantID == "" || ruleID == "" {
		return PricingRule{}, false, ErrInvalidRequest
	}

	rule, ok, err := e.repo.FindByID(ctx, tenantID, ruleID)
	if err != nil || !ok {
		return PricingRule{}, false, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.AppliesToProductIDs != nil {
		rule.AppliesToProductIDs = dedupe(*req.AppliesToProductIDs)
	}
	if req.AppliesToCategories != nil {
		rule.AppliesToCategories = dedupe(*req.AppliesToCategories)
	}
	if req.AppliesToAll != nil {
		rule.AppliesToAll = *req.AppliesToAll
	}
	if req.MinQuantity != nil {
		rule.MinQuantity = *req.MinQuantity
	}
	if req.CustomerSegments != nil {
		rule.CustomerSegments = dedupe(*req.CustomerSegments)
	}
	if req.StartsAt != nil {
		rule.StartsAt = req.StartsAt
	}
	if req.EndsAt != nil {
		rule.EndsAt = req.EndsAt
	}
	if req.MaxUses != nil {
		rule.MaxUses = req.MaxUses
	}
	if req.DiscountType != nil {
		rule.DiscountType = *req.DiscountType
	}
	if req.DiscountValue != nil {
		rule.DiscountValue = *req.DiscountValue
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}

	if err := validateRule(rule); err != nil {
		return PricingRule{}, false, err
	}

	rule.UpdatedAt = e.clock().UTC()
	ok, err = e.repo.Update(ctx, rule)
	if err != nil || !ok {
		return PricingRule{}, false, err
	}
	e.invalidateRuleCache(ctx, tenantID)
	e.auditAdmin(ctx, tenantID, ruleID, "rule updated")
	return rule, true, nil
}

func (e *Engine) DeleteRule(ctx context.Context, tenantID, ruleID string) (bool, error) {
	if tenantID == "" || ruleID == "" {
		return false, ErrInvalidRequest
	}
	ok, err := e.repo.Delete(ctx, tenantID, ruleID)
	if err != nil {
		return false, err
	}
	if ok {
		e.invalidateRuleCache(ctx, tenantID)
		e.auditAdmin(ctx, tenantID, ruleID, "rule deleted")
	}
	return ok, nil
}

func (e *Engine) ActivateRule(ctx context.Context, tenantID, ruleID string) (bool, error) {
	return e.setActive(ctx, tenantID, ruleID, true)
}

func (e *Engine) DeactivateRule(ctx context.Context, tenantID, ruleID string) (bool, error) {
	return e.setActive(ctx, tenantID, ruleID, false)
}

func (e *Engine) setActive(ctx context.Context, tenantID, ruleID string, active bool) (bool, error) {
	if tenantID == "" || ruleID == "" {
		return false, ErrInvalidRequest
	}
	ok, err := e.repo.SetActive(ctx, tenantID, ruleID, active, e.clock().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		e.invalidateRuleCache(ctx, tenantID)
		if active {
			e.auditAdmin(ctx, tenantID, ruleID, "rule activated")
		} else {
			e.auditAdmin(ctx, tenantID, ruleID, "rule deactivated")
		}
	}
	return ok, nil
}

func (e *Engine) ResetRuleUsage(ctx context.Context, tenantID, ruleID string) (bool, error) {
	if tenantID == "" || ruleID == "" {
		return false, ErrInvalidRequest
	}
	ok, err := e.repo.ResetUsage(ctx, tenantID, ruleID, e.clock().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		e.invalidateRuleCache(ctx, tenantID)
		e.auditAdmin(ctx, tenantID, ruleID, "rule usage reset")
	}
	return ok, nil
}

// BulkActivateRules activates each rule independently; one failure never
// aborts the rest.
func (e *Engine) BulkActivateRules(ctx context.Context, tenantID string, ruleIDs []string) BulkResult {
	return e.bulkSetActive(ctx, tenantID, ruleIDs, true)
}

func (e *Engine) BulkDeactivateRules(ctx context.Context, tenantID string, ruleIDs []string) BulkResult {
	return e.bulkSetActive(ctx, tenantID, ruleIDs, false)
}

func (e *Engine) bulkSetActive(ctx context.Context, tenantID string, ruleIDs []string, active bool) BulkResult {
	res := BulkResult{Errors: make(map[string]string)}
	for _, id := range ruleIDs {
		ok, err := e.setActive(ctx, tenantID, id, active)
		switch {
		case err != nil:
			res.Failed++
			res.Errors[id] = err.Error()
		case !ok:
			res.Failed++
			res.Errors[id] = ErrRuleNotFound.Error()
		default:
			res.Applied++
		}
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res
}

// DetectRuleConflicts pairwise-compares a tenant's active rules and flags
// pairs whose application order is ambiguous: same priority, overlapping
// applicability scope. Equal-priority pairs still apply deterministically
// (creation order), but the ordering is accidental rather than intended.
func (e *Engine) DetectRuleConflicts(ctx context.Context, tenantID string) ([]RuleConflict, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	active := true
	rules, err := e.repo.List(ctx, tenantID, ListFilter{Active: &active})
	if err != nil {
		return nil, err
	}

	var conflicts []RuleConflict
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.Priority != b.Priority {
				continue
			}
			reason, overlap := scopesOverlap(a, b)
			if !overlap {
				continue
			}
			conflicts = append(conflicts, RuleConflict{
				RuleID:      a.ID,
				OtherRuleID: b.ID,
				Priority:    a.Priority,
				Reason:      reason,
			})
		}
	}
	return conflicts, nil
}

func scopesOverlap(a, b PricingRule) (string, bool) {
	if a.AppliesToAll && b.AppliesToAll {
		return "both rules apply to all products", true
	}
	if intersects(a.AppliesToProductIDs, b.AppliesToProductIDs) {
		return "overlapping product scope", true
	}
	if intersects(a.AppliesToCategories, b.AppliesToCategories) {
		return "overlapping category scope", true
	}
	if intersects(a.CustomerSegments, b.CustomerSegments) {
		return "overlapping customer segments", true
	}
	return "", false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// auditAdmin records a rule mutation. Best-effort, like all audit writes.
func (e *Engine) auditAdmin(ctx context.Context, tenantID, ruleID, message string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRuleAdminAction(ctx, tenantID, ruleID, "", message, ""); err != nil {
		e.log.Warn("audit append failed", "tenant_id", tenantID, "rule_id", ruleID, "err", err)
	}
}

// invalidateRuleCache drops this tenant's cached rule rows and rule-list
// queries. The tag covers entries written by this process; the pattern sweep
// covers remote entries written by sibling processes.
func (e *Engine) invalidateRuleCache(ctx context.Context, tenantID string) {
	if e.cache == nil {
		return
	}
	e.cache.InvalidateByTags(ctx, []string{cache.TagTenantRules(tenantID)})
	e.cache.InvalidatePattern(ctx, fmt.Sprintf("billing:query:rule:%s:*", tenantID))
}

func validateCreate(req CreateRuleRequest) error {
	return validateRule(PricingRule{
		AppliesToProductIDs: req.AppliesToProductIDs,
		AppliesToCategories: req.AppliesToCategories,
		AppliesToAll:        req.AppliesToAll,
		MinQuantity:         max(req.MinQuantity, 1),
		StartsAt:            req.StartsAt,
		EndsAt:              req.EndsAt,
		MaxUses:             req.MaxUses,
		DiscountType:        req.DiscountType,
		DiscountValue:       req.DiscountValue,
	})
}

func validateRule(rule PricingRule) error {
	if !rule.DiscountType.Valid() {
		return ErrUnsupportedDiscountType
	}
	if rule.DiscountValue.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: discount_value must be positive", ErrInvalidRequest)
	}
	if rule.DiscountType == DiscountTypePercentage && rule.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: percentage discount cannot exceed 100", ErrInvalidRequest)
	}
	if !rule.AppliesToAll && len(rule.AppliesToProductIDs) == 0 && len(rule.AppliesToCategories) == 0 {
		return fmt.Errorf("%w: rule must target products, categories, or all", ErrInvalidRequest)
	}
	if rule.MinQuantity < 1 {
		return fmt.Errorf("%w: min_quantity must be >= 1", ErrInvalidRequest)
	}
	if rule.MaxUses != nil && *rule.MaxUses < 1 {
		return fmt.Errorf("%w: max_uses must be >= 1", ErrInvalidRequest)
	}
	if rule.StartsAt != nil && rule.EndsAt != nil && !rule.EndsAt.After(*rule.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidRequest)
	}
	return nil
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
