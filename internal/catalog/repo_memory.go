package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Not intended for production.
type MemoryRepo struct {
	mu       sync.Mutex
	products map[string]Product // keyed by tenantID + "/" + productID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{products: make(map[string]Product)}
}

func (r *MemoryRepo) FindByID(ctx context.Context, tenantID, productID string) (Product, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[tenantID+"/"+productID]
	return p, ok, nil
}

func (r *MemoryRepo) FindBySKU(ctx context.Context, tenantID, sku string) (Product, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.TenantID == tenantID && strings.EqualFold(p.SKU, sku) {
			return p, true, nil
		}
	}
	return Product{}, false, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, p Product) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.TenantID+"/"+p.ID] = p
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, p Product) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.TenantID + "/" + p.ID
	if _, ok := r.products[key]; !ok {
		return false, nil
	}
	r.products[key] = p
	return true, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context, tenantID string) ([]Product, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if p.TenantID == tenantID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
