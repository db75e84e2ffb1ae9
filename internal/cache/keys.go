package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Key construction is centralized here so every caller agrees on namespaces.
// Keys are "billing:<kind>:<tenant>:<...>" and the <kind> segment drives the
// per-entity TTL policy in BillingCache.
//
// Tenant and entity ID segments are used verbatim (no case normalization).
// SKU keys are the one documented exception: SKUs are uppercased so lookups
// by "sku-1" and "SKU-1" land on the same entry.

const (
	keyPrefix = "billing"

	KindProduct      = "product"
	KindRule         = "rule"
	KindPlan         = "plan"
	KindSubscription = "subscription"
	KindSegment      = "segment"
	KindFlags        = "flags"
	KindQuery        = "query"
)

func ProductKey(tenantID, productID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, KindProduct, tenantID, productID)
}

func ProductSKUKey(tenantID, sku string) string {
	return fmt.Sprintf("%s:%s:%s:sku:%s", keyPrefix, KindProduct, tenantID, strings.ToUpper(sku))
}

func RuleKey(tenantID, ruleID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, KindRule, tenantID, ruleID)
}

// RulesQueryKey identifies a cached rule-list query result. The filter is
// hashed so structurally equal filters share an entry regardless of how the
// caller assembled them.
func RulesQueryKey(tenantID string, filter any) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, KindQuery, KindRule, tenantID, Hash(filter))
}

func PlanKey(tenantID, planID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, KindPlan, tenantID, planID)
}

func SubscriptionKey(tenantID, subscriptionID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, KindSubscription, tenantID, subscriptionID)
}

func SegmentKey(tenantID, segment string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, KindSegment, tenantID, segment)
}

// FlagsKey is the redis hash holding a tenant's feature flags.
func FlagsKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, KindFlags, tenantID)
}

// TenantPattern matches every cache key belonging to a tenant, across kinds.
func TenantPattern(tenantID string) string {
	return fmt.Sprintf("%s:*:%s:*", keyPrefix, tenantID)
}

// TagTenantRules labels every cached rule row and rule-list query for a
// tenant, so rule mutations can invalidate them as a group.
func TagTenantRules(tenantID string) string {
	return fmt.Sprintf("tenant:%s:rules", tenantID)
}

// TagTenantProducts labels cached catalog entries for a tenant.
func TagTenantProducts(tenantID string) string {
	return fmt.Sprintf("tenant:%s:products", tenantID)
}

// Hash returns a deterministic digest of a JSON-serializable value.
// encoding/json writes map keys in sorted order, so two maps with the same
// entries hash identically regardless of insertion order. Values that cannot
// be marshaled hash their Go string representation instead of failing.
func Hash(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// kindOf extracts the entity-kind segment from a key built by this package.
// Unknown shapes return "" and fall back to the default TTL.
func kindOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != keyPrefix {
		return ""
	}
	return parts[1]
}
