package expiry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// expiredMarker flips active rows past their expiry to the expired status.
type expiredMarker interface {
	MarkExpired(ctx context.Context, asOf time.Time) (int64, error)
}

// Job periodically reconciles the stored status column with wall-clock
// expiry. Reads already treat expires_at as authoritative, so the sweep only
// keeps the column honest for reporting and ad-hoc queries.
type Job struct {
	ledger expiredMarker
	now    func() time.Time
	logger *zap.Logger
}

func New(ledger expiredMarker, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		ledger: ledger,
		now:    time.Now,
		logger: logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.ledger == nil {
		return nil
	}

	rows, err := j.ledger.MarkExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("mark expired entitlements: %w", err)
	}
	if rows > 0 {
		j.logger.Info("entitlement expiry sweep completed", zap.Int64("expired", rows))
	}

	return nil
}

// Start runs the sweep on a fixed period until the context is cancelled.
func (j *Job) Start(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = time.Hour
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("entitlement expiry sweep failed", zap.Error(err))
			}
		}
	}
}
