package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"billing-platform/internal/cache"
	"billing-platform/internal/catalog"

	"github.com/shopspring/decimal"
)

// calcContext carries one calculation's inputs past product resolution.
type calcContext struct {
	productID  string
	category   string
	quantity   int
	customerID string
	segments   map[string]struct{}
	basePrice  decimal.Decimal
}

// CalculatePrice resolves the product, selects the applicable rules, applies
// them sequentially in priority order (discounts compound on the running
// price), records usage for each applied rule, and assembles the result.
//
// Zero applicable rules is a valid outcome: final price equals the subtotal
// and the adjustment list is empty. A missing product is ErrProductNotFound;
// repository failures propagate, since a silently mispriced result is worse
// than a loud one.
func (e *Engine) CalculatePrice(ctx context.Context, tenantID string, req CalculationRequest) (CalculationResult, error) {
	if tenantID == "" || req.ProductID == "" || req.Quantity < 1 {
		return CalculationResult{}, ErrInvalidRequest
	}

	product, err := e.resolveProduct(ctx, tenantID, req.ProductID)
	if err != nil {
		return CalculationResult{}, err
	}

	cc := calcContext{
		productID:  product.ID,
		category:   product.Category,
		quantity:   req.Quantity,
		customerID: req.CustomerID,
		segments:   toSet(req.CustomerSegments),
		basePrice:  product.BasePrice,
	}

	now := e.clock().UTC()
	candidates, err := e.candidateRules(ctx, tenantID, cc)
	if err != nil {
		return CalculationResult{}, err
	}

	applicable := candidates[:0]
	for _, rule := range candidates {
		if ruleApplies(rule, cc, now) {
			applicable = append(applicable, rule)
		}
	}
	sortRules(applicable)

	current := cc.basePrice
	var adjustments []Adjustment
	for _, rule := range applicable {
		adj, err := applyRule(rule, current)
		if err != nil {
			return CalculationResult{}, err
		}
		adjustments = append(adjustments, adj)
		current = adj.AdjustedPrice
	}

	for i, adj := range adjustments {
		if err := e.recordRuleUsage(ctx, tenantID, applicable[i], adj, cc, now); err != nil {
			return CalculationResult{}, err
		}
	}

	totalDiscount := cc.basePrice.Sub(current)
	return CalculationResult{
		ProductID:           product.ID,
		Quantity:            req.Quantity,
		Currency:            product.Currency,
		BasePrice:           cc.basePrice,
		Subtotal:            cc.basePrice,
		Adjustments:         adjustments,
		TotalDiscountAmount: totalDiscount,
		FinalPrice:          current,
		LineTotal:           current.Mul(decimal.NewFromInt(int64(req.Quantity))),
		CalculatedAt:        now,
	}, nil
}

// ruleApplies evaluates every applicability predicate for one rule.
func ruleApplies(rule PricingRule, cc calcContext, now time.Time) bool {
	if !rule.IsActive {
		return false
	}
	if !rule.AppliesToAll {
		if !contains(rule.AppliesToProductIDs, cc.productID) &&
			!contains(rule.AppliesToCategories, cc.category) {
			return false
		}
	}
	if cc.quantity < rule.MinQuantity {
		return false
	}
	if len(rule.CustomerSegments) > 0 {
		matched := false
		for _, seg := range rule.CustomerSegments {
			if _, ok := cc.segments[seg]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return false
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return false
	}
	if rule.UsageExhausted() {
		return false
	}
	return true
}

// applyRule computes one rule's effect on the running price.
//
// The adjusted price is floored at zero, and the reported discount is the
// price actually removed after flooring, never the raw computed value. A
// fixed price above the running price is a no-op, not a surcharge.
func applyRule(rule PricingRule, current decimal.Decimal) (Adjustment, error) {
	var discount decimal.Decimal
	switch rule.DiscountType {
	case DiscountTypePercentage:
		discount = current.Mul(rule.DiscountValue).Div(decimal.NewFromInt(100))
	case DiscountTypeFixedAmount:
		discount = rule.DiscountValue
	case DiscountTypeFixedPrice:
		discount = current.Sub(rule.DiscountValue)
	default:
		return Adjustment{}, fmt.Errorf("%w: %q", ErrUnsupportedDiscountType, rule.DiscountType)
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	adjusted := current.Sub(discount)
	if adjusted.IsNegative() {
		adjusted = decimal.Zero
		discount = current
	}

	return Adjustment{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		DiscountType:   rule.DiscountType,
		OriginalPrice:  current,
		DiscountAmount: discount,
		AdjustedPrice:  adjusted,
	}, nil
}

// candidateRules fetches the tenant's active rules pre-filtered by the
// product's scope, through the rule-list cache when one is wired.
func (e *Engine) candidateRules(ctx context.Context, tenantID string, cc calcContext) ([]PricingRule, error) {
	active := true
	filter := ListFilter{Active: &active}

	if e.cache == nil {
		return e.repo.List(ctx, tenantID, filter)
	}

	key := cache.RulesQueryKey(tenantID, filter)
	if b, err := e.cache.Get(ctx, key, nil); err == nil && b != nil {
		var rules []PricingRule
		if err := json.Unmarshal(b, &rules); err == nil {
			return rules, nil
		}
		// Corrupt entry: drop it and fall through to the repository.
		e.cache.Delete(ctx, key)
	}

	rules, err := e.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(rules); err == nil {
		e.cache.Set(ctx, key, b, cache.SetOptions{
			Tags: []string{cache.TagTenantRules(tenantID)},
		})
	}
	return rules, nil
}

// resolveProduct reads the product through the cache; the catalog is the
// loader on a miss.
func (e *Engine) resolveProduct(ctx context.Context, tenantID, productID string) (catalog.Product, error) {
	load := func(ctx context.Context) ([]byte, error) {
		p, ok, err := e.products.FindByID(ctx, tenantID, productID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrProductNotFound
		}
		return json.Marshal(p)
	}

	var raw []byte
	var err error
	if e.cache != nil {
		raw, err = e.cache.Get(ctx, cache.ProductKey(tenantID, productID), load)
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return catalog.Product{}, err
	}

	var product catalog.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return catalog.Product{}, fmt.Errorf("decode cached product: %w", err)
	}
	return product, nil
}

// recordRuleUsage bumps the rule's usage counter atomically and appends an
// audit record. The counter update must stick (errors propagate); the audit
// write is best-effort.
//
// Cached rule lists carry the counter as it was at list time, so crossing a
// cap boundary invalidates the tenant's rule cache: the next calculation must
// re-read the exhausted counter instead of re-granting the discount until the
// list TTL expires.
func (e *Engine) recordRuleUsage(ctx context.Context, tenantID string, rule PricingRule, adj Adjustment, cc calcContext, now time.Time) error {
	applied, err := e.repo.IncrementUsage(ctx, tenantID, adj.RuleID, now)
	if err != nil {
		return err
	}
	switch {
	case !applied:
		// The cap was consumed after this calculation selected the rule,
		// by a concurrent request or through a stale cached list. The
		// discount already stands for this request; the counter itself
		// never overshoots.
		e.log.Warn("rule usage cap reached during calculation",
			"tenant_id", tenantID, "rule_id", adj.RuleID)
		e.invalidateRuleCache(ctx, tenantID)
	case rule.MaxUses != nil && rule.CurrentUses+1 >= *rule.MaxUses:
		// This increment consumed the last allowed use.
		e.invalidateRuleCache(ctx, tenantID)
	}

	if e.audit == nil {
		return nil
	}
	if err := e.audit.LogRuleUsage(ctx, tenantID, adj.RuleID, cc.productID, cc.customerID, cc.quantity, adj.DiscountAmount.String()); err != nil {
		e.log.Warn("audit append failed", "tenant_id", tenantID, "rule_id", adj.RuleID, "err", err)
	}
	return nil
}

// sortRules orders by priority, then creation time, then ID. Repositories
// already return this order; re-sorting keeps the guarantee independent of
// the repository implementation.
func sortRules(rules []PricingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
