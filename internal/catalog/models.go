package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Catalog entities are tenant-scoped (tenant_id required everywhere).
// The catalog is the authoritative source for a product's current base price
// and category membership; pricing never persists prices of its own.

type Product struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// SKU is unique per tenant; lookups are case-insensitive (see cache keys).
	SKU  string `json:"sku" db:"sku"`
	Name string `json:"name" db:"name"`

	// Category identifies the pricing scope bucket (e.g., "saas", "hardware").
	Category string `json:"category" db:"category"`

	BasePrice decimal.Decimal `json:"base_price" db:"base_price"`
	Currency  string          `json:"currency" db:"currency"`

	IsActive bool `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
