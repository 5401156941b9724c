package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProductMappingNotFound = errors.New("product mapping not found")

type ProductRepo struct {
	pool *pgxpool.Pool
}

type ProductMappingRecord struct {
	ID        int64
	ProductID string
	Platform  string
	PlanKey   string
	Active    bool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// ResolvePlanKey maps a store product id to an internal plan key. Inactive
// mappings are invisible here so a product can be pulled from sale without
// deleting its history.
func (r *ProductRepo) ResolvePlanKey(ctx context.Context, productID, platform string) (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("postgres pool is nil")
	}
	productID = strings.TrimSpace(productID)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if productID == "" || platform == "" {
		return "", fmt.Errorf("invalid product lookup payload")
	}

	var planKey string
	err := r.pool.QueryRow(ctx, `
SELECT plan_key
FROM product_mappings
WHERE product_id = $1
  AND platform = $2
  AND active = TRUE
LIMIT 1
`, productID, platform).Scan(&planKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProductMappingNotFound
		}
		return "", fmt.Errorf("resolve plan key: %w", err)
	}

	return planKey, nil
}

func (r *ProductRepo) ListActive(ctx context.Context, platform string) ([]ProductMappingRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" {
		return nil, fmt.Errorf("platform is required")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, product_id, platform, plan_key, active
FROM product_mappings
WHERE platform = $1
  AND active = TRUE
ORDER BY product_id
`, platform)
	if err != nil {
		return nil, fmt.Errorf("list active product mappings: %w", err)
	}
	defer rows.Close()

	var records []ProductMappingRecord
	for rows.Next() {
		var record ProductMappingRecord
		if err := rows.Scan(
			&record.ID,
			&record.ProductID,
			&record.Platform,
			&record.PlanKey,
			&record.Active,
		); err != nil {
			return nil, fmt.Errorf("scan product mapping: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product mappings: %w", err)
	}

	return records, nil
}
