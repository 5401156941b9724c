package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
)

// ledgerStub mimics the conditional-update semantics of the postgres ledger
// in memory so quota rules can be exercised without a database.
type ledgerStub struct {
	records map[int64]pgrepo.EntitlementRecord
}

func newLedgerStub(records ...pgrepo.EntitlementRecord) *ledgerStub {
	stub := &ledgerStub{records: make(map[int64]pgrepo.EntitlementRecord)}
	for _, record := range records {
		stub.records[record.ID] = record
	}
	return stub
}

func (s *ledgerStub) FindByID(_ context.Context, entitlementID int64) (pgrepo.EntitlementRecord, error) {
	record, ok := s.records[entitlementID]
	if !ok {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	return record, nil
}

func (s *ledgerStub) ListActiveForUser(_ context.Context, userID int64, asOf time.Time) ([]pgrepo.EntitlementRecord, error) {
	var out []pgrepo.EntitlementRecord
	for _, record := range s.records {
		if record.UserID == userID && record.Status == "active" && record.ExpiresAt.After(asOf) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *ledgerStub) ConsumeEdit(ctx context.Context, entitlementID int64, asOf time.Time) (pgrepo.EntitlementRecord, error) {
	record, ok := s.records[entitlementID]
	if !ok {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	if record.Status != "active" || !record.ExpiresAt.After(asOf) {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotActive
	}
	if record.EditsUsed >= record.MaxEdits {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrQuotaExceeded
	}
	record.EditsUsed++
	s.records[entitlementID] = record
	return record, nil
}

func (s *ledgerStub) ConsumeCategoryChange(ctx context.Context, entitlementID int64, asOf time.Time) (pgrepo.EntitlementRecord, error) {
	record, ok := s.records[entitlementID]
	if !ok {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	if record.Status != "active" || !record.ExpiresAt.After(asOf) {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotActive
	}
	if !record.AllowCategoryChange {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrCategoryChangeNotAllowed
	}
	if record.CategoryChangesUsed >= record.MaxCategoryChanges {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrQuotaExceeded
	}
	record.CategoryChangesUsed++
	s.records[entitlementID] = record
	return record, nil
}

func (s *ledgerStub) AttachJobPost(_ context.Context, entitlementID, userID, jobPostID int64, asOf time.Time) (pgrepo.EntitlementRecord, error) {
	record, ok := s.records[entitlementID]
	if !ok {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	if record.UserID != userID {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	if record.Status != "active" || !record.ExpiresAt.After(asOf) {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotActive
	}
	if record.JobPostID != nil {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrJobPostAlreadyAttached
	}
	record.JobPostID = &jobPostID
	s.records[entitlementID] = record
	return record, nil
}

type jobPostStoreStub struct {
	posts map[int64]pgrepo.JobPostRecord
}

func (s *jobPostStoreStub) FindOwned(_ context.Context, jobPostID, userID int64) (pgrepo.JobPostRecord, error) {
	post, ok := s.posts[jobPostID]
	if !ok || post.UserID != userID {
		return pgrepo.JobPostRecord{}, pgrepo.ErrJobPostNotFound
	}
	return post, nil
}

func activeRecord(id, userID int64) pgrepo.EntitlementRecord {
	return pgrepo.EntitlementRecord{
		ID:                  id,
		UserID:              userID,
		PlanKey:             "standard",
		Source:              "apple_iap",
		TransactionID:       "tx-1",
		MaxEdits:            3,
		AllowCategoryChange: true,
		MaxCategoryChanges:  1,
		ExpiresAt:           time.Now().Add(24 * time.Hour),
		Status:              "active",
	}
}

func TestConsumeEditExhaustsQuota(t *testing.T) {
	store := newLedgerStub(activeRecord(1, 10))
	svc := NewService(store, &jobPostStoreStub{})

	for want := 1; want <= 3; want++ {
		ent, err := svc.ConsumeEdit(context.Background(), 10, 1)
		if err != nil {
			t.Fatalf("consume %d: unexpected error: %v", want, err)
		}
		if ent.EditsUsed != want {
			t.Fatalf("consume %d: edits used = %d", want, ent.EditsUsed)
		}
	}

	if _, err := svc.ConsumeEdit(context.Background(), 10, 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if got := store.records[1].EditsUsed; got != 3 {
		t.Fatalf("edits used after exhaustion = %d, want 3", got)
	}
}

func TestConsumeEditExpiredEntitlement(t *testing.T) {
	record := activeRecord(1, 10)
	record.ExpiresAt = time.Now().Add(-time.Hour)
	svc := NewService(newLedgerStub(record), &jobPostStoreStub{})

	if _, err := svc.ConsumeEdit(context.Background(), 10, 1); !errors.Is(err, ErrEntitlementNotActive) {
		t.Fatalf("expected ErrEntitlementNotActive, got %v", err)
	}
}

func TestConsumeEditHidesForeignEntitlement(t *testing.T) {
	svc := NewService(newLedgerStub(activeRecord(1, 10)), &jobPostStoreStub{})

	if _, err := svc.ConsumeEdit(context.Background(), 99, 1); !errors.Is(err, ErrEntitlementNotFound) {
		t.Fatalf("expected ErrEntitlementNotFound for foreign owner, got %v", err)
	}
}

func TestConsumeCategoryChangeGatedByPlan(t *testing.T) {
	record := activeRecord(1, 10)
	record.AllowCategoryChange = false
	record.MaxCategoryChanges = 0
	svc := NewService(newLedgerStub(record), &jobPostStoreStub{})

	if _, err := svc.ConsumeCategoryChange(context.Background(), 10, 1); !errors.Is(err, ErrCategoryChangeNotAllowed) {
		t.Fatalf("expected ErrCategoryChangeNotAllowed, got %v", err)
	}
}

func TestConsumeCategoryChangeExhaustsQuota(t *testing.T) {
	svc := NewService(newLedgerStub(activeRecord(1, 10)), &jobPostStoreStub{})

	ent, err := svc.ConsumeCategoryChange(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.CategoryChangesUsed != 1 {
		t.Fatalf("category changes used = %d, want 1", ent.CategoryChangesUsed)
	}

	if _, err := svc.ConsumeCategoryChange(context.Background(), 10, 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAttachJobPost(t *testing.T) {
	store := newLedgerStub(activeRecord(1, 10))
	jobPosts := &jobPostStoreStub{posts: map[int64]pgrepo.JobPostRecord{
		500: {ID: 500, UserID: 10, Title: "Backend engineer", Status: "draft"},
	}}
	svc := NewService(store, jobPosts)

	ent, err := svc.Attach(context.Background(), 10, 1, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.JobPostID == nil || *ent.JobPostID != 500 {
		t.Fatalf("job post id = %v, want 500", ent.JobPostID)
	}

	if _, err := svc.Attach(context.Background(), 10, 1, 500); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestAttachUnknownJobPost(t *testing.T) {
	svc := NewService(newLedgerStub(activeRecord(1, 10)), &jobPostStoreStub{})

	if _, err := svc.Attach(context.Background(), 10, 1, 404); !errors.Is(err, ErrJobPostNotFound) {
		t.Fatalf("expected ErrJobPostNotFound, got %v", err)
	}
}

func TestListActiveValidation(t *testing.T) {
	svc := NewService(newLedgerStub(), &jobPostStoreStub{})

	if _, err := svc.ListActive(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
