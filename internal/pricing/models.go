package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Pricing models are tenant-scoped (tenant_id required everywhere).
// Prices and discount values are decimals; arithmetic must never produce a
// negative adjusted price.

// DiscountType selects the discount arithmetic for a rule.
type DiscountType string

const (
	// DiscountTypePercentage deducts discount_value percent of the running price.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixedAmount deducts a fixed amount from the running price.
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
	// DiscountTypeFixedPrice sets the running price to discount_value.
	DiscountTypeFixedPrice DiscountType = "fixed_price"
)

func (t DiscountType) Valid() bool {
	switch t {
	case DiscountTypePercentage, DiscountTypeFixedAmount, DiscountTypeFixedPrice:
		return true
	default:
		return false
	}
}

// PricingRule is a tenant-owned discount rule.
//
// Applicability: a rule applies when it is active, the product is in scope
// (applies_to_all, or product/category match), quantity meets min_quantity,
// the customer shares a segment when segments are restricted, "now" falls in
// the validity window, and the usage cap is not exhausted.
//
// Ordering: rules apply in ascending priority; equal priorities break ties by
// creation time, then rule ID. Discounts compound on the running price.
type PricingRule struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	AppliesToProductIDs []string `json:"applies_to_product_ids" db:"applies_to_product_ids"`
	AppliesToCategories []string `json:"applies_to_categories" db:"applies_to_categories"`
	AppliesToAll        bool     `json:"applies_to_all" db:"applies_to_all"`

	// MinQuantity is the smallest quantity the rule applies to (>= 1).
	MinQuantity int `json:"min_quantity" db:"min_quantity"`

	// CustomerSegments restricts the rule to customers in any of these
	// segments; empty means no segment restriction.
	CustomerSegments []string `json:"customer_segments" db:"customer_segments"`

	// Validity window; open-ended where nil.
	StartsAt *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty" db:"ends_at"`

	// MaxUses caps how many times the rule may be applied; nil = unlimited.
	// CurrentUses only increases, via the repository's atomic increment.
	MaxUses     *int `json:"max_uses,omitempty" db:"max_uses"`
	CurrentUses int  `json:"current_uses" db:"current_uses"`

	DiscountType  DiscountType    `json:"discount_type" db:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`

	// Priority orders application; lower evaluates first.
	Priority int `json:"priority" db:"priority"`

	IsActive bool `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UsageExhausted reports whether the usage cap leaves no applications left.
func (r PricingRule) UsageExhausted() bool {
	return r.MaxUses != nil && r.CurrentUses >= *r.MaxUses
}

// CreateRuleRequest carries the mutable fields for rule creation.
type CreateRuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	AppliesToProductIDs []string `json:"applies_to_product_ids,omitempty"`
	AppliesToCategories []string `json:"applies_to_categories,omitempty"`
	AppliesToAll        bool     `json:"applies_to_all,omitempty"`

	MinQuantity      int      `json:"min_quantity,omitempty"`
	CustomerSegments []string `json:"customer_segments,omitempty"`

	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	MaxUses  *int       `json:"max_uses,omitempty"`

	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`

	Priority int   `json:"priority,omitempty"`
	IsActive *bool `json:"is_active,omitempty"`
}

// UpdateRuleRequest is a partial update; nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`

	AppliesToProductIDs *[]string `json:"applies_to_product_ids,omitempty"`
	AppliesToCategories *[]string `json:"applies_to_categories,omitempty"`
	AppliesToAll        *bool     `json:"applies_to_all,omitempty"`

	MinQuantity      *int      `json:"min_quantity,omitempty"`
	CustomerSegments *[]string `json:"customer_segments,omitempty"`

	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	MaxUses  *int       `json:"max_uses,omitempty"`

	DiscountType  *DiscountType    `json:"discount_type,omitempty"`
	DiscountValue *decimal.Decimal `json:"discount_value,omitempty"`

	Priority *int `json:"priority,omitempty"`
}

// ListFilter narrows ListRules results. Zero values mean "no filter".
type ListFilter struct {
	Active    *bool  `json:"active,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Category  string `json:"category,omitempty"`
}

// CalculationRequest asks for the effective price of a product for one
// customer.
type CalculationRequest struct {
	ProductID        string   `json:"product_id"`
	Quantity         int      `json:"quantity"`
	CustomerID       string   `json:"customer_id"`
	CustomerSegments []string `json:"customer_segments,omitempty"`
}

// Adjustment is one applied rule's effect on the running price.
type Adjustment struct {
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name,omitempty"`
	DiscountType   DiscountType    `json:"discount_type"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AdjustedPrice  decimal.Decimal `json:"adjusted_price"`
}

// CalculationResult is the full outcome of a price calculation.
//
// The compounding chain runs on the unit price: Subtotal is the product's
// base unit price, FinalPrice = Subtotal - TotalDiscountAmount, and
// LineTotal = FinalPrice * Quantity. Quantity participates in applicability
// thresholds only. An empty Adjustments list is a valid result
// (FinalPrice == Subtotal), not an error.
type CalculationResult struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Currency  string `json:"currency"`

	BasePrice decimal.Decimal `json:"base_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`

	Adjustments         []Adjustment    `json:"applied_adjustments"`
	TotalDiscountAmount decimal.Decimal `json:"total_discount_amount"`
	FinalPrice          decimal.Decimal `json:"final_price"`
	LineTotal           decimal.Decimal `json:"line_total"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// RuleConflict flags a pair of active rules whose tie-break order is
// ambiguous: same priority with overlapping applicability scopes.
type RuleConflict struct {
	RuleID      string `json:"rule_id"`
	OtherRuleID string `json:"other_rule_id"`
	Priority    int    `json:"priority"`
	Reason      string `json:"reason"`
}

// BulkResult aggregates a bulk activate/deactivate run. One rule's failure
// never aborts the others.
type BulkResult struct {
	Applied int               `json:"applied"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

var (
	ErrProductNotFound         = errors.New("pricing: product not found")
	ErrRuleNotFound            = errors.New("pricing: rule not found")
	ErrUnsupportedDiscountType = errors.New("pricing: unsupported discount type")
	ErrInvalidRequest          = errors.New("pricing: invalid request")
)
