package pricing

import (
	"context"
	"time"
)

// Repository abstracts pricing rule persistence.
//
// Contract:
// - Every query is tenant-scoped; a rule owned by another tenant is absent.
// - List returns rules ordered by priority, then created_at, then id, so the
//   engine's tie-break is deterministic.
// - IncrementUsage is atomic with respect to concurrent calculations: the
//   counter update and the cap check happen in one statement (or under one
//   lock), and the return value reports whether an application was still
//   available. Read-modify-write in application code is not an acceptable
//   implementation.
type Repository interface {
	Insert(ctx context.Context, rule PricingRule) error
	FindByID(ctx context.Context, tenantID, ruleID string) (PricingRule, bool, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]PricingRule, error)
	Update(ctx context.Context, rule PricingRule) (bool, error)
	Delete(ctx context.Context, tenantID, ruleID string) (bool, error)
	SetActive(ctx context.Context, tenantID, ruleID string, active bool, now time.Time) (bool, error)
	ResetUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error)
	IncrementUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error)
}
