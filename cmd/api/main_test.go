package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"billing-platform/internal/cache"
	"billing-platform/internal/catalog"

	"github.com/shopspring/decimal"
)

func warmTestCache(t *testing.T, warming bool) *cache.BillingCache {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.L2Enabled = false
	cfg.WarmingEnabled = warming
	return cache.New(cfg, nil, slog.Default())
}

func TestWarmCatalog_SeedsActiveProducts(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewMemoryRepo()
	active := catalog.Product{ID: "p1", TenantID: "t1", SKU: "SKU-1", Name: "Basic", BasePrice: decimal.NewFromInt(100), IsActive: true}
	inactive := catalog.Product{ID: "p2", TenantID: "t1", SKU: "SKU-2", Name: "Legacy", BasePrice: decimal.NewFromInt(50)}
	if err := repo.Insert(ctx, active); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, inactive); err != nil {
		t.Fatalf("insert: %v", err)
	}

	bc := warmTestCache(t, true)
	warmCatalog(ctx, bc, repo, []string{"t1"}, slog.Default())

	v, err := bc.Get(ctx, cache.ProductKey("t1", "p1"), nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v == nil {
		t.Fatalf("expected active product to be warmed")
	}
	var got catalog.Product
	if err := json.Unmarshal(v, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SKU != "SKU-1" {
		t.Fatalf("expected SKU-1, got %q", got.SKU)
	}

	if v, _ := bc.Get(ctx, cache.ProductKey("t1", "p2"), nil); v != nil {
		t.Fatalf("inactive product must not be warmed")
	}
}

func TestWarmCatalog_NoopWhenWarmingDisabled(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewMemoryRepo()
	p := catalog.Product{ID: "p1", TenantID: "t1", SKU: "SKU-1", Name: "Basic", BasePrice: decimal.NewFromInt(100), IsActive: true}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	bc := warmTestCache(t, false)
	warmCatalog(ctx, bc, repo, []string{"t1"}, slog.Default())

	if v, _ := bc.Get(ctx, cache.ProductKey("t1", "p1"), nil); v != nil {
		t.Fatalf("warming disabled must leave the cache empty")
	}
}
