package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobPostNotFound = errors.New("job post not found")

type JobPostRepo struct {
	pool *pgxpool.Pool
}

type JobPostRecord struct {
	ID     int64
	UserID int64
	Title  string
	Status string
}

func NewJobPostRepo(pool *pgxpool.Pool) *JobPostRepo {
	return &JobPostRepo{pool: pool}
}

// FindOwned resolves a job post only when it belongs to the given user, so
// a purchase cannot be attached to someone else's listing.
func (r *JobPostRepo) FindOwned(ctx context.Context, jobPostID, userID int64) (JobPostRecord, error) {
	if r.pool == nil {
		return JobPostRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if jobPostID <= 0 || userID <= 0 {
		return JobPostRecord{}, fmt.Errorf("invalid job post lookup payload")
	}

	var record JobPostRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, user_id, title, status
FROM job_posts
WHERE id = $1
  AND user_id = $2
LIMIT 1
`, jobPostID, userID).Scan(
		&record.ID,
		&record.UserID,
		&record.Title,
		&record.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobPostRecord{}, ErrJobPostNotFound
		}
		return JobPostRecord{}, fmt.Errorf("find owned job post: %w", err)
	}

	return record, nil
}

// FindMany loads minimal metadata for a set of job posts, used to decorate
// restore responses.
func (r *JobPostRepo) FindMany(ctx context.Context, jobPostIDs []int64) (map[int64]JobPostRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(jobPostIDs) == 0 {
		return map[int64]JobPostRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, title, status
FROM job_posts
WHERE id = ANY($1)
`, jobPostIDs)
	if err != nil {
		return nil, fmt.Errorf("find job posts: %w", err)
	}
	defer rows.Close()

	records := make(map[int64]JobPostRecord, len(jobPostIDs))
	for rows.Next() {
		var record JobPostRecord
		if err := rows.Scan(&record.ID, &record.UserID, &record.Title, &record.Status); err != nil {
			return nil, fmt.Errorf("scan job post: %w", err)
		}
		records[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job posts: %w", err)
	}

	return records, nil
}
