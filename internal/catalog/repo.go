package catalog

import "context"

// Repository abstracts product persistence.
// Implementations must scope every query by tenant; a product belonging to
// another tenant is reported as absent, never as an error.
type Repository interface {
	FindByID(ctx context.Context, tenantID, productID string) (Product, bool, error)
	FindBySKU(ctx context.Context, tenantID, sku string) (Product, bool, error)
	Insert(ctx context.Context, p Product) error
	Update(ctx context.Context, p Product) (bool, error)
	ListActive(ctx context.Context, tenantID string) ([]Product, error)
}
