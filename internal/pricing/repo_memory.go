package pricing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. It mirrors the Postgres repository's semantics, including the
// cap-guarded usage increment (performed under the repo mutex).
type MemoryRepo struct {
	mu    sync.Mutex
	rules map[string]PricingRule // keyed by tenantID + "/" + ruleID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rules: make(map[string]PricingRule)}
}

func memKey(tenantID, ruleID string) string { return tenantID + "/" + ruleID }

func (r *MemoryRepo) Insert(ctx context.Context, rule PricingRule) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[memKey(rule.TenantID, rule.ID)] = rule
	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, tenantID, ruleID string) (PricingRule, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[memKey(tenantID, ruleID)]
	return rule, ok, nil
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, filter ListFilter) ([]PricingRule, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PricingRule
	for _, rule := range r.rules {
		if rule.TenantID != tenantID {
			continue
		}
		if filter.Active != nil && rule.IsActive != *filter.Active {
			continue
		}
		if filter.ProductID != "" && !ruleCoversProduct(rule, filter.ProductID) {
			continue
		}
		if filter.Category != "" && !ruleCoversCategory(rule, filter.Category) {
			continue
		}
		out = append(out, rule)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, rule PricingRule) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(rule.TenantID, rule.ID)
	if _, ok := r.rules[key]; !ok {
		return false, nil
	}
	r.rules[key] = rule
	return true, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, tenantID, ruleID string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(tenantID, ruleID)
	if _, ok := r.rules[key]; !ok {
		return false, nil
	}
	delete(r.rules, key)
	return true, nil
}

func (r *MemoryRepo) SetActive(ctx context.Context, tenantID, ruleID string, active bool, now time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(tenantID, ruleID)
	rule, ok := r.rules[key]
	if !ok {
		return false, nil
	}
	rule.IsActive = active
	rule.UpdatedAt = now
	r.rules[key] = rule
	return true, nil
}

func (r *MemoryRepo) ResetUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(tenantID, ruleID)
	rule, ok := r.rules[key]
	if !ok {
		return false, nil
	}
	rule.CurrentUses = 0
	rule.UpdatedAt = now
	r.rules[key] = rule
	return true, nil
}

func (r *MemoryRepo) IncrementUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(tenantID, ruleID)
	rule, ok := r.rules[key]
	if !ok {
		return false, nil
	}
	if rule.UsageExhausted() {
		return false, nil
	}
	rule.CurrentUses++
	rule.UpdatedAt = now
	r.rules[key] = rule
	return true, nil
}

func ruleCoversProduct(rule PricingRule, productID string) bool {
	if rule.AppliesToAll {
		return true
	}
	for _, id := range rule.AppliesToProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

func ruleCoversCategory(rule PricingRule, category string) bool {
	if rule.AppliesToAll {
		return true
	}
	for _, c := range rule.AppliesToCategories {
		if c == category {
			return true
		}
	}
	return false
}
