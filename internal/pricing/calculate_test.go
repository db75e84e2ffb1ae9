package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"billing-platform/internal/audit"
	"billing-platform/internal/cache"
	"billing-platform/internal/catalog"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type testEnv struct {
	engine   *Engine
	rules    *MemoryRepo
	products *catalog.MemoryRepo
	audits   *audit.MemoryRepo
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		rules:    NewMemoryRepo(),
		products: catalog.NewMemoryRepo(),
		audits:   audit.NewMemoryRepo(),
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.engine = NewEngine(env.rules, env.products, nil, audit.NewService(env.audits))
	env.engine.clock = func() time.Time { return env.now }
	return env
}

func (env *testEnv) addProduct(t *testing.T, id, category, price string) {
	t.Helper()
	err := env.products.Insert(context.Background(), catalog.Product{
		ID:        id,
		TenantID:  "t1",
		SKU:       "SKU-" + id,
		Name:      id,
		Category:  category,
		BasePrice: dec(price),
		Currency:  "USD",
		IsActive:  true,
		CreatedAt: env.now,
		UpdatedAt: env.now,
	})
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}
}

func (env *testEnv) addRule(t *testing.T, rule PricingRule) PricingRule {
	t.Helper()
	if rule.TenantID == "" {
		rule.TenantID = "t1"
	}
	if rule.MinQuantity == 0 {
		rule.MinQuantity = 1
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = env.now
	}
	rule.IsActive = true
	if err := env.rules.Insert(context.Background(), rule); err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	return rule
}

func TestApplyRule_Percentage(t *testing.T) {
	adj, err := applyRule(PricingRule{ID: "r", DiscountType: DiscountTypePercentage, DiscountValue: dec("10")}, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adj.DiscountAmount.Equal(dec("10")) || !adj.AdjustedPrice.Equal(dec("90")) {
		t.Fatalf("expected 10 off 100, got discount=%s adjusted=%s", adj.DiscountAmount, adj.AdjustedPrice)
	}
}

func TestApplyRule_FixedAmountClampedAtZero(t *testing.T) {
	adj, err := applyRule(PricingRule{ID: "r", DiscountType: DiscountTypeFixedAmount, DiscountValue: dec("150")}, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adj.AdjustedPrice.Equal(decimal.Zero) {
		t.Fatalf("expected price floored at 0, got %s", adj.AdjustedPrice)
	}
	// The reported discount is the price actually removed, not the raw value.
	if !adj.DiscountAmount.Equal(dec("100")) {
		t.Fatalf("expected clamped discount 100, got %s", adj.DiscountAmount)
	}
}

func TestApplyRule_FixedPrice(t *testing.T) {
	adj, err := applyRule(PricingRule{ID: "r", DiscountType: DiscountTypeFixedPrice, DiscountValue: dec("75")}, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adj.AdjustedPrice.Equal(dec("75")) || !adj.DiscountAmount.Equal(dec("25")) {
		t.Fatalf("expected 100 -> 75, got discount=%s adjusted=%s", adj.DiscountAmount, adj.AdjustedPrice)
	}
}

func TestApplyRule_FixedPriceAboveCurrentIsNoop(t *testing.T) {
	adj, err := applyRule(PricingRule{ID: "r", DiscountType: DiscountTypeFixedPrice, DiscountValue: dec("120")}, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adj.DiscountAmount.Equal(decimal.Zero) || !adj.AdjustedPrice.Equal(dec("100")) {
		t.Fatalf("fixed price above current must not surcharge, got discount=%s adjusted=%s", adj.DiscountAmount, adj.AdjustedPrice)
	}
}

func TestApplyRule_UnsupportedType(t *testing.T) {
	_, err := applyRule(PricingRule{ID: "r", DiscountType: "bogo"}, dec("100"))
	if !errors.Is(err, ErrUnsupportedDiscountType) {
		t.Fatalf("expected ErrUnsupportedDiscountType, got %v", err)
	}
}

func TestRuleApplies_UsageCap(t *testing.T) {
	five := 5
	rule := PricingRule{
		IsActive:      true,
		AppliesToAll:  true,
		MinQuantity:   1,
		MaxUses:       &five,
		CurrentUses:   5,
		DiscountType:  DiscountTypePercentage,
		DiscountValue: dec("10"),
	}
	cc := calcContext{productID: "p1", quantity: 10, segments: map[string]struct{}{}}
	if ruleApplies(rule, cc, time.Now()) {
		t.Fatalf("exhausted rule must not apply")
	}
	rule.CurrentUses = 4
	if !ruleApplies(rule, cc, time.Now()) {
		t.Fatalf("rule with remaining uses must apply")
	}
}

func TestRuleApplies_QuantityBoundary(t *testing.T) {
	rule := PricingRule{IsActive: true, AppliesToAll: true, MinQuantity: 5}
	cc := calcContext{quantity: 5, segments: map[string]struct{}{}}
	if !ruleApplies(rule, cc, time.Now()) {
		t.Fatalf("quantity == min_quantity must apply")
	}
	cc.quantity = 4
	if ruleApplies(rule, cc, time.Now()) {
		t.Fatalf("quantity below min_quantity must not apply")
	}
}

func TestRuleApplies_SegmentMatching(t *testing.T) {
	rule := PricingRule{IsActive: true, AppliesToAll: true, MinQuantity: 1, CustomerSegments: []string{"premium"}}
	now := time.Now()

	cases := []struct {
		segments []string
		want     bool
	}{
		{nil, false},
		{[]string{"basic"}, false},
		{[]string{"premium"}, true},
		{[]string{"basic", "premium"}, true},
	}
	for _, tc := range cases {
		cc := calcContext{quantity: 1, segments: toSet(tc.segments)}
		if got := ruleApplies(rule, cc, now); got != tc.want {
			t.Fatalf("segments %v: got %v, want %v", tc.segments, got, tc.want)
		}
	}
}

func TestRuleApplies_ValidityWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	cc := calcContext{quantity: 1, segments: map[string]struct{}{}}
	base := PricingRule{IsActive: true, AppliesToAll: true, MinQuantity: 1}

	inWindow := base
	inWindow.StartsAt = &before
	inWindow.EndsAt = &after
	if !ruleApplies(inWindow, cc, now) {
		t.Fatalf("rule inside window must apply")
	}

	notStarted := base
	notStarted.StartsAt = &after
	if ruleApplies(notStarted, cc, now) {
		t.Fatalf("future rule must not apply")
	}

	expired := base
	expired.EndsAt = &before
	if ruleApplies(expired, cc, now) {
		t.Fatalf("expired rule must not apply")
	}
}

func TestCalculatePrice_NoRulesIsValidResult(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Adjustments) != 0 {
		t.Fatalf("expected no adjustments, got %d", len(res.Adjustments))
	}
	if !res.FinalPrice.Equal(res.Subtotal) {
		t.Fatalf("expected final == subtotal, got %s vs %s", res.FinalPrice, res.Subtotal)
	}
	if !res.TotalDiscountAmount.Equal(decimal.Zero) {
		t.Fatalf("expected zero discount, got %s", res.TotalDiscountAmount)
	}
}

func TestCalculatePrice_CompoundingOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")
	env.addRule(t, PricingRule{ID: "r1", Priority: 1, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10")})
	env.addRule(t, PricingRule{ID: "r2", Priority: 2, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10")})

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Discounts compound on the running price: 100 -> 90 -> 81, not 100 -> 80.
	if !res.FinalPrice.Equal(dec("81")) {
		t.Fatalf("expected 81, got %s", res.FinalPrice)
	}
	if len(res.Adjustments) != 2 {
		t.Fatalf("expected 2 adjustments, got %d", len(res.Adjustments))
	}
	if !res.Adjustments[0].AdjustedPrice.Equal(dec("90")) {
		t.Fatalf("expected first step 100 -> 90, got %s", res.Adjustments[0].AdjustedPrice)
	}
}

func TestCalculatePrice_EndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "200")
	env.addRule(t, PricingRule{ID: "ruleA", Priority: 1, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10")})
	env.addRule(t, PricingRule{ID: "ruleB", Priority: 2, AppliesToAll: true, MinQuantity: 2, DiscountType: DiscountTypeFixedAmount, DiscountValue: dec("15")})

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 3, CustomerID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Adjustments) != 2 {
		t.Fatalf("expected 2 adjustments, got %d", len(res.Adjustments))
	}
	if res.Adjustments[0].RuleID != "ruleA" || !res.Adjustments[0].AdjustedPrice.Equal(dec("180")) {
		t.Fatalf("expected ruleA first: 200 -> 180, got %s via %s", res.Adjustments[0].AdjustedPrice, res.Adjustments[0].RuleID)
	}
	if res.Adjustments[1].RuleID != "ruleB" || !res.Adjustments[1].AdjustedPrice.Equal(dec("165")) {
		t.Fatalf("expected ruleB second: 180 -> 165, got %s via %s", res.Adjustments[1].AdjustedPrice, res.Adjustments[1].RuleID)
	}
	if !res.FinalPrice.Equal(dec("165")) {
		t.Fatalf("expected final 165, got %s", res.FinalPrice)
	}
	if !res.TotalDiscountAmount.Equal(dec("35")) {
		t.Fatalf("expected total discount 35, got %s", res.TotalDiscountAmount)
	}
	if !res.LineTotal.Equal(dec("495")) {
		t.Fatalf("expected line total 495, got %s", res.LineTotal)
	}
}

func TestCalculatePrice_EqualPriorityAppliesInCreationOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")

	earlier := env.now.Add(-time.Hour)
	first := env.addRule(t, PricingRule{ID: "zzz", Priority: 5, AppliesToAll: true, DiscountType: DiscountTypeFixedPrice, DiscountValue: dec("50"), CreatedAt: earlier})
	env.addRule(t, PricingRule{ID: "aaa", Priority: 5, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10")})

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Adjustments[0].RuleID != first.ID {
		t.Fatalf("expected creation-order tie-break, first applied %s", res.Adjustments[0].RuleID)
	}
	// 100 -> 50 (fixed price), then 10% off -> 45.
	if !res.FinalPrice.Equal(dec("45")) {
		t.Fatalf("expected 45, got %s", res.FinalPrice)
	}
}

func TestCalculatePrice_ProductNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "ghost", Quantity: 1})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCalculatePrice_RecordsUsageAndAudit(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")
	rule := env.addRule(t, PricingRule{ID: "r1", Priority: 1, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10")})

	if _, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 2, CustomerID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _, err := env.rules.FindByID(context.Background(), "t1", rule.ID)
	if err != nil {
		t.Fatalf("find rule: %v", err)
	}
	if got.CurrentUses != 1 {
		t.Fatalf("expected usage incremented to 1, got %d", got.CurrentUses)
	}

	events := env.audits.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Type != audit.EventTypeRuleUsage || events[0].RuleID != rule.ID {
		t.Fatalf("unexpected audit event: %+v", events[0])
	}
	if events[0].Quantity != 2 || events[0].DiscountAmount != "10" {
		t.Fatalf("expected calculation context captured, got %+v", events[0])
	}
}

func TestCalculatePrice_ScopedToTenant(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")
	env.addRule(t, PricingRule{ID: "other-tenant", TenantID: "t2", Priority: 1, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("50")})

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Adjustments) != 0 {
		t.Fatalf("another tenant's rule must never apply")
	}
}

func TestCalculatePrice_CategoryScope(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "hardware", "100")
	env.addProduct(t, "p2", "saas", "100")
	env.addRule(t, PricingRule{ID: "r1", Priority: 1, AppliesToCategories: []string{"hardware"}, DiscountType: DiscountTypePercentage, DiscountValue: dec("20")})

	res, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FinalPrice.Equal(dec("80")) {
		t.Fatalf("expected category rule applied, got %s", res.FinalPrice)
	}

	res, err = env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p2", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Adjustments) != 0 {
		t.Fatalf("rule must not apply outside its category")
	}
}

func TestCalculatePrice_WithCacheInvalidation(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")

	cfg := cache.DefaultConfig()
	cfg.L2Enabled = false
	bc := cache.New(cfg, nil, nil)
	env.engine.cache = bc

	rule, err := env.engine.CreateRule(context.Background(), "t1", CreateRuleRequest{
		Name:          "spring",
		AppliesToAll:  true,
		DiscountType:  DiscountTypePercentage,
		DiscountValue: dec("10"),
		Priority:      1,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	req := CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"}
	res, err := env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FinalPrice.Equal(dec("90")) {
		t.Fatalf("expected 90, got %s", res.FinalPrice)
	}

	// Deactivating the rule must invalidate the cached rule list.
	if ok, err := env.engine.DeactivateRule(context.Background(), "t1", rule.ID); err != nil || !ok {
		t.Fatalf("deactivate: ok=%v err=%v", ok, err)
	}
	res, err = env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FinalPrice.Equal(dec("100")) {
		t.Fatalf("expected stale cache invalidated, got %s", res.FinalPrice)
	}
}

func TestCalculatePrice_UsageCapHoldsAcrossCachedRuleLists(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")

	cfg := cache.DefaultConfig()
	cfg.L2Enabled = false
	env.engine.cache = cache.New(cfg, nil, nil)

	one := 1
	rule, err := env.engine.CreateRule(context.Background(), "t1", CreateRuleRequest{
		Name:          "one-shot",
		AppliesToAll:  true,
		DiscountType:  DiscountTypePercentage,
		DiscountValue: dec("10"),
		MaxUses:       &one,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	req := CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"}
	res, err := env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !res.FinalPrice.Equal(dec("90")) {
		t.Fatalf("expected 90 on first call, got %s", res.FinalPrice)
	}

	// The cap is now consumed. The cached rule list must not keep granting
	// the discount until its TTL expires.
	res, err = env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(res.Adjustments) != 0 || !res.FinalPrice.Equal(dec("100")) {
		t.Fatalf("exhausted rule must not apply on the next call, got %s with %d adjustments",
			res.FinalPrice, len(res.Adjustments))
	}

	got, _, err := env.rules.FindByID(context.Background(), "t1", rule.ID)
	if err != nil {
		t.Fatalf("find rule: %v", err)
	}
	if got.CurrentUses != 1 {
		t.Fatalf("counter must never overshoot the cap, got %d", got.CurrentUses)
	}
}

func TestCalculatePrice_StaleCachedCounterInvalidatedOnRejectedIncrement(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "p1", "saas", "100")

	cfg := cache.DefaultConfig()
	cfg.L2Enabled = false
	bc := cache.New(cfg, nil, nil)
	env.engine.cache = bc

	one := 1
	rule := env.addRule(t, PricingRule{ID: "r1", Priority: 1, AppliesToAll: true, DiscountType: DiscountTypePercentage, DiscountValue: dec("10"), MaxUses: &one})

	// Exhaust the cap out of band, then plant a rule list that still carries
	// the old counter, as another process's calculation would have left it.
	if applied, err := env.rules.IncrementUsage(context.Background(), "t1", rule.ID, env.now); err != nil || !applied {
		t.Fatalf("increment: applied=%v err=%v", applied, err)
	}
	active := true
	stale, err := json.Marshal([]PricingRule{rule})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	bc.Set(context.Background(), cache.RulesQueryKey("t1", ListFilter{Active: &active}), stale,
		cache.SetOptions{Tags: []string{cache.TagTenantRules("t1")}})

	// The stale list grants the discount once; the guarded increment rejects
	// the overshoot and the cache is dropped.
	req := CalculationRequest{ProductID: "p1", Quantity: 1, CustomerID: "c1"}
	res, err := env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !res.FinalPrice.Equal(dec("90")) {
		t.Fatalf("expected stale grant of 90, got %s", res.FinalPrice)
	}
	got, _, _ := env.rules.FindByID(context.Background(), "t1", rule.ID)
	if got.CurrentUses != 1 {
		t.Fatalf("counter must hold at the cap, got %d", got.CurrentUses)
	}

	res, err = env.engine.CalculatePrice(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(res.Adjustments) != 0 || !res.FinalPrice.Equal(dec("100")) {
		t.Fatalf("expected fresh read after invalidation, got %s with %d adjustments",
			res.FinalPrice, len(res.Adjustments))
	}
}

func TestCalculatePrice_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CalculatePrice(context.Background(), "t1", CalculationRequest{ProductID: "p1", Quantity: 0}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for quantity 0, got %v", err)
	}
	if _, err := env.engine.CalculatePrice(context.Background(), "", CalculationRequest{ProductID: "p1", Quantity: 1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty tenant, got %v", err)
	}
}
