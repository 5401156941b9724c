package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const replayPrefix = "billing:tx:"

// ReplayRepo caches recently processed transaction tokens. It is a fast-path
// filter in front of the ledger's unique constraint, never the authoritative
// replay guard: a cache miss (or a dead redis) just falls through to the
// insert, whose constraint violation is the real signal.
type ReplayRepo struct {
	client *goredis.Client
}

func NewReplayRepo(client *goredis.Client) *ReplayRepo {
	return &ReplayRepo{client: client}
}

func (r *ReplayRepo) Seen(ctx context.Context, transactionID string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return false, fmt.Errorf("transaction id is required")
	}

	n, err := r.client.Exists(ctx, replayPrefix+transactionID).Result()
	if err != nil {
		return false, fmt.Errorf("check replay cache: %w", err)
	}

	return n > 0, nil
}

func (r *ReplayRepo) MarkSeen(ctx context.Context, transactionID string, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if err := r.client.Set(ctx, replayPrefix+transactionID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark transaction seen: %w", err)
	}

	return nil
}
