package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func seed(t *testing.T, r *MemoryRepo, tenantID, id, sku string, active bool) {
	t.Helper()
	err := r.Insert(context.Background(), Product{
		ID:        id,
		TenantID:  tenantID,
		SKU:       sku,
		Name:      id,
		Category:  "saas",
		BasePrice: decimal.NewFromInt(100),
		Currency:  "USD",
		IsActive:  active,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestFindBySKU_CaseInsensitive(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "t1", "p1", "PLAN-STARTER", true)

	p, ok, err := r.FindBySKU(context.Background(), "t1", "plan-starter")
	if err != nil || !ok {
		t.Fatalf("expected SKU match, ok=%v err=%v", ok, err)
	}
	if p.ID != "p1" {
		t.Fatalf("unexpected product %+v", p)
	}
}

func TestLookupsAreTenantScoped(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "t1", "p1", "SKU-1", true)

	if _, ok, _ := r.FindByID(context.Background(), "t2", "p1"); ok {
		t.Fatalf("another tenant's product must be absent")
	}
	if _, ok, _ := r.FindBySKU(context.Background(), "t2", "SKU-1"); ok {
		t.Fatalf("another tenant's SKU must be absent")
	}
}

func TestListActive_ExcludesInactive(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "t1", "p1", "SKU-1", true)
	seed(t, r, "t1", "p2", "SKU-2", false)

	out, err := r.ListActive(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "p1" {
		t.Fatalf("unexpected list: %+v", out)
	}
}
