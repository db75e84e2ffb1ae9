package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table. INSERT-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, tenant_id, type, rule_id, product_id, customer_id,
  quantity, discount_amount, actor_user_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		e.Type,
		e.RuleID,
		e.ProductID,
		e.CustomerID,
		e.Quantity,
		e.DiscountAmount,
		e.ActorUserID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
