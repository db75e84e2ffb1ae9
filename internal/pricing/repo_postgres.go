package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo persists rules in the pricing_rules table:
//
//	pricing_rules (
//	  id, tenant_id, name, description,
//	  applies_to_product_ids JSONB, applies_to_categories JSONB,
//	  applies_to_all, min_quantity, customer_segments JSONB,
//	  starts_at, ends_at, max_uses, current_uses,
//	  discount_type, discount_value NUMERIC, priority,
//	  is_active, created_at, updated_at,
//	  PRIMARY KEY (tenant_id, id)
//	)
//
// The string-set fields ride in JSONB so membership stays schema-free; scope
// filtering over them happens in SQL via the jsonb containment operator.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const ruleColumns = `id, tenant_id, name, description,
applies_to_product_ids, applies_to_categories, applies_to_all,
min_quantity, customer_segments, starts_at, ends_at,
max_uses, current_uses, discount_type, discount_value, priority,
is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (PricingRule, error) {
	var (
		rule       PricingRule
		products   []byte
		categories []byte
		segments   []byte
		startsAt   sql.NullTime
		endsAt     sql.NullTime
		maxUses    sql.NullInt64
	)
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&rule.Description,
		&products,
		&categories,
		&rule.AppliesToAll,
		&rule.MinQuantity,
		&segments,
		&startsAt,
		&endsAt,
		&maxUses,
		&rule.CurrentUses,
		&rule.DiscountType,
		&rule.DiscountValue,
		&rule.Priority,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return PricingRule{}, err
	}

	if err := json.Unmarshal(products, &rule.AppliesToProductIDs); err != nil {
		return PricingRule{}, fmt.Errorf("decode product scope: %w", err)
	}
	if err := json.Unmarshal(categories, &rule.AppliesToCategories); err != nil {
		return PricingRule{}, fmt.Errorf("decode category scope: %w", err)
	}
	if err := json.Unmarshal(segments, &rule.CustomerSegments); err != nil {
		return PricingRule{}, fmt.Errorf("decode segments: %w", err)
	}
	if startsAt.Valid {
		t := startsAt.Time
		rule.StartsAt = &t
	}
	if endsAt.Valid {
		t := endsAt.Time
		rule.EndsAt = &t
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		rule.MaxUses = &n
	}
	return rule, nil
}

func jsonSet(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

// jsonContainsArg builds the operand for a @> containment filter. Marshaling
// keeps the operand valid JSON whatever characters the value carries.
func jsonContainsArg(v string) []byte {
	b, _ := json.Marshal([]string{v})
	return b
}

func (r *PostgresRepo) Insert(ctx context.Context, rule PricingRule) error {
	products, err := jsonSet(rule.AppliesToProductIDs)
	if err != nil {
		return err
	}
	categories, err := jsonSet(rule.AppliesToCategories)
	if err != nil {
		return err
	}
	segments, err := jsonSet(rule.CustomerSegments)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO pricing_rules (` + ruleColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`
	_, err = r.db.ExecContext(ctx, q,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.Description,
		products,
		categories,
		rule.AppliesToAll,
		rule.MinQuantity,
		segments,
		rule.StartsAt,
		rule.EndsAt,
		rule.MaxUses,
		rule.CurrentUses,
		rule.DiscountType,
		rule.DiscountValue,
		rule.Priority,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) FindByID(ctx context.Context, tenantID, ruleID string) (PricingRule, bool, error) {
	const q = `
SELECT ` + ruleColumns + `
FROM pricing_rules
WHERE tenant_id = $1 AND id = $2
`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, tenantID, ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PricingRule{}, false, nil
		}
		return PricingRule{}, false, err
	}
	return rule, true, nil
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, filter ListFilter) ([]PricingRule, error) {
	q := `
SELECT ` + ruleColumns + `
FROM pricing_rules
WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Active != nil {
		args = append(args, *filter.Active)
		q += fmt.Sprintf(" AND is_active = $%d", len(args))
	}
	if filter.ProductID != "" {
		args = append(args, jsonContainsArg(filter.ProductID))
		q += fmt.Sprintf(" AND (applies_to_all OR applies_to_product_ids @> $%d::jsonb)", len(args))
	}
	if filter.Category != "" {
		args = append(args, jsonContainsArg(filter.Category))
		q += fmt.Sprintf(" AND (applies_to_all OR applies_to_categories @> $%d::jsonb)", len(args))
	}
	q += " ORDER BY priority, created_at, id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, rule PricingRule) (bool, error) {
	products, err := jsonSet(rule.AppliesToProductIDs)
	if err != nil {
		return false, err
	}
	categories, err := jsonSet(rule.AppliesToCategories)
	if err != nil {
		return false, err
	}
	segments, err := jsonSet(rule.CustomerSegments)
	if err != nil {
		return false, err
	}

	const q = `
UPDATE pricing_rules
SET name = $3, description = $4,
    applies_to_product_ids = $5, applies_to_categories = $6, applies_to_all = $7,
    min_quantity = $8, customer_segments = $9,
    starts_at = $10, ends_at = $11, max_uses = $12,
    discount_type = $13, discount_value = $14, priority = $15,
    updated_at = $16
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		rule.TenantID,
		rule.ID,
		rule.Name,
		rule.Description,
		products,
		categories,
		rule.AppliesToAll,
		rule.MinQuantity,
		segments,
		rule.StartsAt,
		rule.EndsAt,
		rule.MaxUses,
		rule.DiscountType,
		rule.DiscountValue,
		rule.Priority,
		rule.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *PostgresRepo) Delete(ctx context.Context, tenantID, ruleID string) (bool, error) {
	const q = `DELETE FROM pricing_rules WHERE tenant_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, q, tenantID, ruleID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *PostgresRepo) SetActive(ctx context.Context, tenantID, ruleID string, active bool, now time.Time) (bool, error) {
	const q = `
UPDATE pricing_rules
SET is_active = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, tenantID, ruleID, active, now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *PostgresRepo) ResetUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error) {
	const q = `
UPDATE pricing_rules
SET current_uses = 0, updated_at = $3
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, tenantID, ruleID, now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// IncrementUsage bumps the usage counter in a single guarded statement.
// The cap check lives inside the UPDATE, so two concurrent calculations can
// never both consume the last remaining application.
func (r *PostgresRepo) IncrementUsage(ctx context.Context, tenantID, ruleID string, now time.Time) (bool, error) {
	const q = `
UPDATE pricing_rules
SET current_uses = current_uses + 1, updated_at = $3
WHERE tenant_id = $1 AND id = $2
  AND (max_uses IS NULL OR current_uses < max_uses)
`
	res, err := r.db.ExecContext(ctx, q, tenantID, ruleID, now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
