package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrEntitlementNotFound      = errors.New("entitlement not found")
	ErrTransactionConflict      = errors.New("transaction already processed")
	ErrEntitlementNotActive     = errors.New("entitlement is not active")
	ErrQuotaExceeded            = errors.New("entitlement quota exceeded")
	ErrCategoryChangeNotAllowed = errors.New("category change not allowed by plan")
	ErrJobPostAlreadyAttached   = errors.New("entitlement already attached to a job post")
)

const (
	statusActive  = "active"
	statusExpired = "expired"
)

type EntitlementRepo struct {
	pool *pgxpool.Pool
}

type EntitlementRecord struct {
	ID                    int64
	UserID                int64
	JobPostID             *int64
	PlanKey               string
	Source                string
	TransactionID         string
	OriginalTransactionID *string
	MaxEdits              int
	EditsUsed             int
	AllowCategoryChange   bool
	MaxCategoryChanges    int
	CategoryChangesUsed   int
	ExpiresAt             time.Time
	Status                string
	RawPayload            map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type IssueEntitlementParams struct {
	UserID                int64
	JobPostID             *int64
	PlanKey               string
	Source                string
	TransactionID         string
	OriginalTransactionID *string
	MaxEdits              int
	AllowCategoryChange   bool
	MaxCategoryChanges    int
	ExpiresAt             time.Time
	RawPayload            map[string]any
}

func NewEntitlementRepo(pool *pgxpool.Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

const entitlementColumns = `
	id, user_id, job_post_id, plan_key, source,
	transaction_id, original_transaction_id,
	max_edits, edits_used,
	allow_category_change, max_category_changes, category_changes_used,
	expires_at, status, raw_payload, created_at, updated_at`

// Issue persists a new entitlement. The unique index on transaction_id is
// the replay guard: a duplicate insert surfaces as ErrTransactionConflict,
// regardless of how many instances race on the same token.
func (r *EntitlementRepo) Issue(ctx context.Context, params IssueEntitlementParams) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if params.UserID <= 0 || strings.TrimSpace(params.TransactionID) == "" || strings.TrimSpace(params.PlanKey) == "" {
		return EntitlementRecord{}, fmt.Errorf("invalid entitlement issue payload")
	}
	if params.ExpiresAt.IsZero() {
		return EntitlementRecord{}, fmt.Errorf("entitlement expiry is required")
	}

	payloadJSON, err := marshalRawPayload(params.RawPayload)
	if err != nil {
		return EntitlementRecord{}, err
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO entitlements (
	user_id,
	job_post_id,
	plan_key,
	source,
	transaction_id,
	original_transaction_id,
	max_edits,
	edits_used,
	allow_category_change,
	max_category_changes,
	category_changes_used,
	expires_at,
	status,
	raw_payload,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, 0, $10, 'active', $11::jsonb, NOW(), NOW())
RETURNING`+entitlementColumns,
		params.UserID,
		params.JobPostID,
		strings.ToLower(strings.TrimSpace(params.PlanKey)),
		strings.ToLower(strings.TrimSpace(params.Source)),
		strings.TrimSpace(params.TransactionID),
		params.OriginalTransactionID,
		params.MaxEdits,
		params.AllowCategoryChange,
		params.MaxCategoryChanges,
		params.ExpiresAt.UTC(),
		payloadJSON,
	)

	record, err := scanEntitlement(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return EntitlementRecord{}, ErrTransactionConflict
		}
		return EntitlementRecord{}, fmt.Errorf("issue entitlement: %w", err)
	}

	return record, nil
}

func (r *EntitlementRepo) FindByID(ctx context.Context, entitlementID int64) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if entitlementID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid entitlement id")
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
SELECT`+entitlementColumns+`
FROM entitlements
WHERE id = $1
LIMIT 1
`, entitlementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EntitlementRecord{}, ErrEntitlementNotFound
		}
		return EntitlementRecord{}, fmt.Errorf("find entitlement by id: %w", err)
	}

	return record, nil
}

func (r *EntitlementRepo) FindByTransactionID(ctx context.Context, transactionID string) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return EntitlementRecord{}, fmt.Errorf("transaction id is required")
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
SELECT`+entitlementColumns+`
FROM entitlements
WHERE transaction_id = $1
LIMIT 1
`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EntitlementRecord{}, ErrEntitlementNotFound
		}
		return EntitlementRecord{}, fmt.Errorf("find entitlement by transaction id: %w", err)
	}

	return record, nil
}

// ListActiveForUser filters on expires_at as well as status, so results stay
// correct even when the expiry sweep has not run yet.
func (r *EntitlementRepo) ListActiveForUser(ctx context.Context, userID int64, asOf time.Time) ([]EntitlementRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+entitlementColumns+`
FROM entitlements
WHERE user_id = $1
  AND status = 'active'
  AND expires_at > $2
ORDER BY expires_at DESC
`, userID, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active entitlements: %w", err)
	}
	defer rows.Close()

	var records []EntitlementRecord
	for rows.Next() {
		record, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}

	return records, nil
}

// ConsumeEdit increments edits_used inside a single conditional UPDATE. Two
// concurrent calls for the last remaining edit serialize on the row lock and
// exactly one of them passes the edits_used < max_edits predicate.
func (r *EntitlementRepo) ConsumeEdit(ctx context.Context, entitlementID int64, asOf time.Time) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if entitlementID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid entitlement id")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
UPDATE entitlements
SET
	edits_used = edits_used + 1,
	updated_at = NOW()
WHERE id = $1
  AND status = 'active'
  AND expires_at > $2
  AND edits_used < max_edits
RETURNING`+entitlementColumns, entitlementID, asOf.UTC()))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EntitlementRecord{}, fmt.Errorf("consume edit quota: %w", err)
	}

	return EntitlementRecord{}, r.classifyConsumeFailure(ctx, entitlementID, asOf, func(existing EntitlementRecord) error {
		if existing.EditsUsed >= existing.MaxEdits {
			return ErrQuotaExceeded
		}
		return ErrEntitlementNotActive
	})
}

// ConsumeCategoryChange is the category-quota analogue of ConsumeEdit, with
// the plan-level allow_category_change gate folded into the predicate.
func (r *EntitlementRepo) ConsumeCategoryChange(ctx context.Context, entitlementID int64, asOf time.Time) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if entitlementID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid entitlement id")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
UPDATE entitlements
SET
	category_changes_used = category_changes_used + 1,
	updated_at = NOW()
WHERE id = $1
  AND status = 'active'
  AND expires_at > $2
  AND allow_category_change = TRUE
  AND category_changes_used < max_category_changes
RETURNING`+entitlementColumns, entitlementID, asOf.UTC()))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EntitlementRecord{}, fmt.Errorf("consume category change quota: %w", err)
	}

	return EntitlementRecord{}, r.classifyConsumeFailure(ctx, entitlementID, asOf, func(existing EntitlementRecord) error {
		if !existing.AllowCategoryChange {
			return ErrCategoryChangeNotAllowed
		}
		if existing.CategoryChangesUsed >= existing.MaxCategoryChanges {
			return ErrQuotaExceeded
		}
		return ErrEntitlementNotActive
	})
}

// AttachJobPost backfills the paid resource on an entitlement issued without
// one. The job_post_id IS NULL predicate makes the attach single-shot.
func (r *EntitlementRepo) AttachJobPost(ctx context.Context, entitlementID, userID, jobPostID int64, asOf time.Time) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if entitlementID <= 0 || userID <= 0 || jobPostID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid attach payload")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
UPDATE entitlements
SET
	job_post_id = $3,
	updated_at = NOW()
WHERE id = $1
  AND user_id = $2
  AND status = 'active'
  AND expires_at > $4
  AND job_post_id IS NULL
RETURNING`+entitlementColumns, entitlementID, userID, jobPostID, asOf.UTC()))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EntitlementRecord{}, fmt.Errorf("attach job post: %w", err)
	}

	existing, findErr := r.FindByID(ctx, entitlementID)
	if findErr != nil {
		return EntitlementRecord{}, findErr
	}
	if existing.UserID != userID {
		return EntitlementRecord{}, ErrEntitlementNotFound
	}
	if existing.JobPostID != nil {
		return EntitlementRecord{}, ErrJobPostAlreadyAttached
	}
	return EntitlementRecord{}, ErrEntitlementNotActive
}

// MarkExpired flips lapsed rows to the expired status. Purely an
// optimization for reporting; every read already filters on expires_at.
func (r *EntitlementRepo) MarkExpired(ctx context.Context, asOf time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	result, err := r.pool.Exec(ctx, `
UPDATE entitlements
SET
	status = 'expired',
	updated_at = NOW()
WHERE status = 'active'
  AND expires_at <= $1
`, asOf.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark expired entitlements: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *EntitlementRepo) classifyConsumeFailure(
	ctx context.Context,
	entitlementID int64,
	asOf time.Time,
	classify func(EntitlementRecord) error,
) error {
	existing, err := r.FindByID(ctx, entitlementID)
	if err != nil {
		return err
	}
	if existing.Status != statusActive || !existing.ExpiresAt.After(asOf.UTC()) {
		return ErrEntitlementNotActive
	}
	return classify(existing)
}

func scanEntitlement(row pgx.Row) (EntitlementRecord, error) {
	var (
		record     EntitlementRecord
		rawPayload []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.JobPostID,
		&record.PlanKey,
		&record.Source,
		&record.TransactionID,
		&record.OriginalTransactionID,
		&record.MaxEdits,
		&record.EditsUsed,
		&record.AllowCategoryChange,
		&record.MaxCategoryChanges,
		&record.CategoryChangesUsed,
		&record.ExpiresAt,
		&record.Status,
		&rawPayload,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return EntitlementRecord{}, err
	}
	record.RawPayload = decodeRawPayload(rawPayload)
	return record, nil
}

func marshalRawPayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal entitlement raw payload: %w", err)
	}
	return string(raw), nil
}

func decodeRawPayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
