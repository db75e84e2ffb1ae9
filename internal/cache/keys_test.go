package cache

import "testing"

func TestHash_OrderIndependent(t *testing.T) {
	a := Hash(map[string]int{"a": 1, "b": 2})
	b := Hash(map[string]int{"b": 2, "a": 1})
	if a != b {
		t.Fatalf("expected identical hashes, got %s vs %s", a, b)
	}
}

func TestHash_DifferentValuesDiffer(t *testing.T) {
	a := Hash(map[string]int{"a": 1})
	b := Hash(map[string]int{"a": 2})
	if a == b {
		t.Fatalf("expected different hashes")
	}
}

func TestHash_Deterministic(t *testing.T) {
	type filter struct {
		Active   bool
		Category string
	}
	if Hash(filter{true, "saas"}) != Hash(filter{true, "saas"}) {
		t.Fatalf("expected stable hash for equal structs")
	}
}

func TestProductSKUKey_UppercasesSKU(t *testing.T) {
	if ProductSKUKey("t1", "abc-1") != ProductSKUKey("t1", "ABC-1") {
		t.Fatalf("expected SKU case normalization")
	}
}

func TestKeys_TenantSegmentNotNormalized(t *testing.T) {
	if ProductKey("T1", "p1") == ProductKey("t1", "p1") {
		t.Fatalf("tenant segment must not be case-normalized")
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]string{
		ProductKey("t1", "p1"):           KindProduct,
		RuleKey("t1", "r1"):              KindRule,
		SubscriptionKey("t1", "s1"):      KindSubscription,
		RulesQueryKey("t1", "anything"):  KindQuery,
		"unrelated:key":                  "",
		"billing":                        "",
	}
	for key, want := range cases {
		if got := kindOf(key); got != want {
			t.Fatalf("kindOf(%q) = %q, want %q", key, got, want)
		}
	}
}
