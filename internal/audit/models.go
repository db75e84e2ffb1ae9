package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Audit capture is best-effort; do not block pricing flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	RuleID     string `json:"rule_id,omitempty" db:"rule_id"`
	ProductID  string `json:"product_id,omitempty" db:"product_id"`
	CustomerID string `json:"customer_id,omitempty" db:"customer_id"`

	// Quantity and DiscountAmount capture the calculation context for
	// rule-usage records. DiscountAmount is the decimal's string form so the
	// audit row carries no money arithmetic of its own.
	Quantity       int    `json:"quantity,omitempty" db:"quantity"`
	DiscountAmount string `json:"discount_amount,omitempty" db:"discount_amount"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeRuleUsage        EventType = "rule_usage"
	EventTypePriceCalculation EventType = "price_calculation"
	EventTypeRuleAdminAction  EventType = "rule_admin_action"
)
