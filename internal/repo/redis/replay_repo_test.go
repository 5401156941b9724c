package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newMiniRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestReplayRepoMarkAndCheck(t *testing.T) {
	repo := NewReplayRepo(newMiniRedisClient(t))
	ctx := context.Background()

	seen, err := repo.Seen(ctx, "tx-001")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatalf("fresh token must not be seen")
	}

	if err := repo.MarkSeen(ctx, "tx-001", time.Minute); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	seen, err = repo.Seen(ctx, "tx-001")
	if err != nil {
		t.Fatalf("seen after mark: %v", err)
	}
	if !seen {
		t.Fatalf("marked token must be seen")
	}
}

func TestReplayRepoNilClientIsNoop(t *testing.T) {
	repo := NewReplayRepo(nil)
	ctx := context.Background()

	if err := repo.MarkSeen(ctx, "tx-001", time.Minute); err != nil {
		t.Fatalf("mark seen with nil client: %v", err)
	}
	seen, err := repo.Seen(ctx, "tx-001")
	if err != nil {
		t.Fatalf("seen with nil client: %v", err)
	}
	if seen {
		t.Fatalf("nil client must never report seen tokens")
	}
}

func TestReplayRepoRequiresTransactionID(t *testing.T) {
	repo := NewReplayRepo(newMiniRedisClient(t))

	if _, err := repo.Seen(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty transaction id")
	}
	if err := repo.MarkSeen(context.Background(), "", time.Minute); err == nil {
		t.Fatalf("expected error for empty transaction id")
	}
}
