package catalog

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo persists products in the products table:
//
//	products (
//	  id, tenant_id, sku, name, category,
//	  base_price NUMERIC, currency,
//	  is_active, created_at, updated_at,
//	  UNIQUE (tenant_id, id), UNIQUE (tenant_id, UPPER(sku))
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const productColumns = `id, tenant_id, sku, name, category, base_price, currency, is_active, created_at, updated_at`

func scanProduct(row *sql.Row) (Product, bool, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.SKU,
		&p.Name,
		&p.Category,
		&p.BasePrice,
		&p.Currency,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, false, nil
		}
		return Product{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) FindByID(ctx context.Context, tenantID, productID string) (Product, bool, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE tenant_id = $1 AND id = $2
`
	return scanProduct(r.db.QueryRowContext(ctx, q, tenantID, productID))
}

func (r *PostgresRepo) FindBySKU(ctx context.Context, tenantID, sku string) (Product, bool, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE tenant_id = $1 AND UPPER(sku) = UPPER($2)
`
	return scanProduct(r.db.QueryRowContext(ctx, q, tenantID, sku))
}

func (r *PostgresRepo) Insert(ctx context.Context, p Product) error {
	const q = `
INSERT INTO products (` + productColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		p.ID,
		p.TenantID,
		p.SKU,
		p.Name,
		p.Category,
		p.BasePrice,
		p.Currency,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, p Product) (bool, error) {
	const q = `
UPDATE products
SET sku = $3, name = $4, category = $5, base_price = $6, currency = $7,
    is_active = $8, updated_at = $9
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		p.TenantID,
		p.ID,
		p.SKU,
		p.Name,
		p.Category,
		p.BasePrice,
		p.Currency,
		p.IsActive,
		p.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) ListActive(ctx context.Context, tenantID string) ([]Product, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE tenant_id = $1 AND is_active
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID,
			&p.TenantID,
			&p.SKU,
			&p.Name,
			&p.Category,
			&p.BasePrice,
			&p.Currency,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
