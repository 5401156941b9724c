package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPlanNotFound = errors.New("plan not found")

type PlanRepo struct {
	pool *pgxpool.Pool
}

// PlanRecord is an immutable quota template. Rows are managed by the admin
// panel; this service only reads them.
type PlanRecord struct {
	Key                 string
	DurationDays        int
	MaxEdits            int
	AllowCategoryChange bool
	MaxCategoryChanges  int
	HasFeaturedOption   bool
}

func NewPlanRepo(pool *pgxpool.Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

func (r *PlanRepo) FindByKey(ctx context.Context, planKey string) (PlanRecord, error) {
	if r.pool == nil {
		return PlanRecord{}, fmt.Errorf("postgres pool is nil")
	}
	planKey = strings.ToLower(strings.TrimSpace(planKey))
	if planKey == "" {
		return PlanRecord{}, fmt.Errorf("plan key is required")
	}

	var record PlanRecord
	err := r.pool.QueryRow(ctx, `
SELECT
	key,
	duration_days,
	max_edits,
	allow_category_change,
	max_category_changes,
	has_featured_option
FROM plans
WHERE key = $1
LIMIT 1
`, planKey).Scan(
		&record.Key,
		&record.DurationDays,
		&record.MaxEdits,
		&record.AllowCategoryChange,
		&record.MaxCategoryChanges,
		&record.HasFeaturedOption,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PlanRecord{}, ErrPlanNotFound
		}
		return PlanRecord{}, fmt.Errorf("find plan by key: %w", err)
	}

	return record, nil
}
