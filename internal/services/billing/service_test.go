package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
	catalogsvc "github.com/antonkalach/jobdeck/backend/internal/services/catalog"
	"github.com/antonkalach/jobdeck/backend/internal/services/receipts"
)

type catalogStub struct {
	mappings map[string]string
	plans    map[string]catalogsvc.PlanTerms
}

func (s *catalogStub) ResolvePlanKey(_ context.Context, productID string, _ enums.Platform) (string, error) {
	planKey, ok := s.mappings[productID]
	if !ok {
		return "", catalogsvc.ErrProductNotFound
	}
	return planKey, nil
}

func (s *catalogStub) GetPlan(_ context.Context, planKey string) (catalogsvc.PlanTerms, error) {
	plan, ok := s.plans[planKey]
	if !ok {
		return catalogsvc.PlanTerms{}, catalogsvc.ErrPlanNotFound
	}
	return plan, nil
}

func (s *catalogStub) ListProducts(_ context.Context, platform enums.Platform) ([]catalogsvc.Product, error) {
	var out []catalogsvc.Product
	for productID, planKey := range s.mappings {
		out = append(out, catalogsvc.Product{ProductID: productID, Platform: platform, PlanKey: planKey})
	}
	return out, nil
}

type verifierStub struct {
	purchase receipts.Purchase
	err      error
}

func (s *verifierStub) Verify(_ context.Context, _ receipts.Proof) (receipts.Purchase, error) {
	if s.err != nil {
		return receipts.Purchase{}, s.err
	}
	return s.purchase, nil
}

// ledgerStub enforces transaction uniqueness under a mutex, matching the
// unique index that backs the real ledger.
type ledgerStub struct {
	mu      sync.Mutex
	nextID  int64
	byTx    map[string]int64
	records map[int64]pgrepo.EntitlementRecord
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{
		nextID:  1,
		byTx:    make(map[string]int64),
		records: make(map[int64]pgrepo.EntitlementRecord),
	}
}

func (s *ledgerStub) Issue(_ context.Context, params pgrepo.IssueEntitlementParams) (pgrepo.EntitlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTx[params.TransactionID]; exists {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrTransactionConflict
	}

	record := pgrepo.EntitlementRecord{
		ID:                    s.nextID,
		UserID:                params.UserID,
		JobPostID:             params.JobPostID,
		PlanKey:               params.PlanKey,
		Source:                params.Source,
		TransactionID:         params.TransactionID,
		OriginalTransactionID: params.OriginalTransactionID,
		MaxEdits:              params.MaxEdits,
		AllowCategoryChange:   params.AllowCategoryChange,
		MaxCategoryChanges:    params.MaxCategoryChanges,
		ExpiresAt:             params.ExpiresAt,
		Status:                "active",
	}
	s.nextID++
	s.byTx[params.TransactionID] = record.ID
	s.records[record.ID] = record
	return record, nil
}

func (s *ledgerStub) FindByTransactionID(_ context.Context, transactionID string) (pgrepo.EntitlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTx[transactionID]
	if !ok {
		return pgrepo.EntitlementRecord{}, pgrepo.ErrEntitlementNotFound
	}
	return s.records[id], nil
}

func (s *ledgerStub) ListActiveForUser(_ context.Context, userID int64, asOf time.Time) ([]pgrepo.EntitlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pgrepo.EntitlementRecord
	for _, record := range s.records {
		if record.UserID == userID && record.Status == "active" && record.ExpiresAt.After(asOf) {
			out = append(out, record)
		}
	}
	return out, nil
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

func (s *jobPostStoreStub) FindMany(_ context.Context, jobPostIDs []int64) (map[int64]pgrepo.JobPostRecord, error) {
	out := make(map[int64]pgrepo.JobPostRecord)
	for _, id := range jobPostIDs {
		if post, ok := s.posts[id]; ok {
			out[id] = post
		}
	}
	return out, nil
}

type replayCacheStub struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newReplayCacheStub() *replayCacheStub {
	return &replayCacheStub{seen: make(map[string]bool)}
}

func (s *replayCacheStub) Seen(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[transactionID], nil
}

func (s *replayCacheStub) MarkSeen(_ context.Context, transactionID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[transactionID] = true
	return nil
}

func defaultCatalog() *catalogStub {
	return &catalogStub{
		mappings: map[string]string{
			"com.jobdeck.urgent7": "urgent",
		},
		plans: map[string]catalogsvc.PlanTerms{
			"urgent": {
				Key:          "urgent",
				DurationDays: 7,
				MaxEdits:     2,
			},
		},
	}
}

func newTestService(t *testing.T, catalog Catalog, ledger LedgerStore, verifier receipts.Verifier, jobPosts JobPostStore, cache ReplayCache) *Service {
	t.Helper()

	svc := NewService(Dependencies{
		Catalog: catalog,
		Verifiers: map[enums.Platform]receipts.Verifier{
			enums.PlatformIOS:     verifier,
			enums.PlatformAndroid: verifier,
		},
		Ledger:      ledger,
		JobPosts:    jobPosts,
		ReplayCache: cache,
		Logger:      zap.NewNop(),
	}, Config{})
	svc.now = func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestVerifyPurchaseIssuesEntitlement(t *testing.T) {
	ledger := newLedgerStub()
	verifier := &verifierStub{purchase: receipts.Purchase{
		ProductID:     "com.jobdeck.urgent7",
		TransactionID: "tx-001",
	}}
	svc := newTestService(t, defaultCatalog(), ledger, verifier, &jobPostStoreStub{}, newReplayCacheStub())

	result, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{
		Platform:          "ios",
		ProductID:         "com.jobdeck.urgent7",
		SignedTransaction: "signed-blob",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatal("fresh purchase reported as already processed")
	}

	ent := result.Entitlement
	if ent.PlanKey != "urgent" {
		t.Fatalf("plan key = %q", ent.PlanKey)
	}
	if ent.Source != "apple_iap" {
		t.Fatalf("source = %q", ent.Source)
	}
	if ent.MaxEdits != 2 || ent.EditsUsed != 0 {
		t.Fatalf("edit quota = %d/%d", ent.EditsUsed, ent.MaxEdits)
	}
	wantExpiry := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !ent.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires at = %v, want %v", ent.ExpiresAt, wantExpiry)
	}
}

func TestVerifyPurchaseReplayedTransaction(t *testing.T) {
	ledger := newLedgerStub()
	verifier := &verifierStub{purchase: receipts.Purchase{
		ProductID:     "com.jobdeck.urgent7",
		TransactionID: "tx-001",
	}}
	svc := newTestService(t, defaultCatalog(), ledger, verifier, &jobPostStoreStub{}, newReplayCacheStub())

	first, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "ios", ProductID: "com.jobdeck.urgent7"})
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}

	second, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "ios", ProductID: "com.jobdeck.urgent7"})
	if err != nil {
		t.Fatalf("replayed verify: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatal("replay not reported as already processed")
	}
	if second.Entitlement.ID != first.Entitlement.ID {
		t.Fatalf("replay returned entitlement %d, want %d", second.Entitlement.ID, first.Entitlement.ID)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("ledger holds %d records, want 1", len(ledger.records))
	}
}

func TestVerifyPurchaseConcurrentReplay(t *testing.T) {
	ledger := newLedgerStub()
	verifier := &verifierStub{purchase: receipts.Purchase{
		ProductID:     "com.jobdeck.urgent7",
		TransactionID: "tx-001",
	}}
	// No replay cache: both callers race straight to the ledger constraint.
	svc := newTestService(t, defaultCatalog(), ledger, verifier, &jobPostStoreStub{}, nil)

	const callers = 2
	results := make([]VerifyResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.VerifyPurchase(context.Background(), 42, VerifyInput{
				Platform:  "ios",
				ProductID: "com.jobdeck.urgent7",
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if !results[i].AlreadyProcessed {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("fresh issues = %d, want exactly 1", fresh)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("ledger holds %d records, want 1", len(ledger.records))
	}
}

func TestVerifyPurchaseInvalidProof(t *testing.T) {
	svc := newTestService(t, defaultCatalog(), newLedgerStub(), &verifierStub{err: receipts.ErrInvalidProof}, &jobPostStoreStub{}, nil)

	if _, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "ios", ProductID: "com.jobdeck.urgent7"}); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("expected ErrInvalidReceipt, got %v", err)
	}
}

func TestVerifyPurchaseVerifierDown(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(t, defaultCatalog(), ledger, &verifierStub{err: receipts.ErrVerificationUnavailable}, &jobPostStoreStub{}, nil)

	if _, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "ios", ProductID: "com.jobdeck.urgent7"}); !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
	if len(ledger.records) != 0 {
		t.Fatal("entitlement issued despite failed verification")
	}
}

func TestVerifyPurchaseUnknownProduct(t *testing.T) {
	verifier := &verifierStub{purchase: receipts.Purchase{
		ProductID:     "com.jobdeck.retired",
		TransactionID: "tx-002",
	}}
	svc := newTestService(t, defaultCatalog(), newLedgerStub(), verifier, &jobPostStoreStub{}, nil)

	if _, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "ios", ProductID: "com.jobdeck.retired"}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestVerifyPurchaseUnsupportedPlatform(t *testing.T) {
	svc := newTestService(t, defaultCatalog(), newLedgerStub(), &verifierStub{}, &jobPostStoreStub{}, nil)

	if _, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{Platform: "web"}); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestVerifyPurchaseForeignJobPost(t *testing.T) {
	verifier := &verifierStub{purchase: receipts.Purchase{
		ProductID:     "com.jobdeck.urgent7",
		TransactionID: "tx-003",
	}}
	jobPosts := &jobPostStoreStub{posts: map[int64]pgrepo.JobPostRecord{
		500: {ID: 500, UserID: 77, Title: "Not yours", Status: "active"},
	}}
	svc := newTestService(t, defaultCatalog(), newLedgerStub(), verifier, jobPosts, nil)

	jobPostID := int64(500)
	if _, err := svc.VerifyPurchase(context.Background(), 42, VerifyInput{
		Platform:  "ios",
		ProductID: "com.jobdeck.urgent7",
		JobPostID: &jobPostID,
	}); !errors.Is(err, ErrJobPostNotFound) {
		t.Fatalf("expected ErrJobPostNotFound, got %v", err)
	}
}

func TestRestorePurchasesFiltersBySource(t *testing.T) {
	ledger := newLedgerStub()
	jobPostID := int64(500)
	expires := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	if _, err := ledger.Issue(context.Background(), pgrepo.IssueEntitlementParams{
		UserID: 42, PlanKey: "urgent", Source: "apple_iap", TransactionID: "tx-ios",
		JobPostID: &jobPostID, MaxEdits: 2, ExpiresAt: expires,
	}); err != nil {
		t.Fatalf("seed ios entitlement: %v", err)
	}
	if _, err := ledger.Issue(context.Background(), pgrepo.IssueEntitlementParams{
		UserID: 42, PlanKey: "urgent", Source: "google_play", TransactionID: "tx-android",
		MaxEdits: 2, ExpiresAt: expires,
	}); err != nil {
		t.Fatalf("seed android entitlement: %v", err)
	}

	jobPosts := &jobPostStoreStub{posts: map[int64]pgrepo.JobPostRecord{
		500: {ID: 500, UserID: 42, Title: "Courier wanted", Status: "active"},
	}}
	svc := newTestService(t, defaultCatalog(), ledger, &verifierStub{}, jobPosts, nil)

	result, err := svc.RestorePurchases(context.Background(), 42, "ios")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RestoredCount != 1 {
		t.Fatalf("restored count = %d, want 1", result.RestoredCount)
	}

	restored := result.Entitlements[0]
	if restored.Entitlement.TransactionID != "tx-ios" {
		t.Fatalf("restored transaction = %q", restored.Entitlement.TransactionID)
	}
	if restored.JobPost == nil || restored.JobPost.Title != "Courier wanted" {
		t.Fatalf("job post metadata = %+v", restored.JobPost)
	}
}

func TestRestorePurchasesEmpty(t *testing.T) {
	svc := newTestService(t, defaultCatalog(), newLedgerStub(), &verifierStub{}, &jobPostStoreStub{}, nil)

	result, err := svc.RestorePurchases(context.Background(), 42, "android")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RestoredCount != 0 || len(result.Entitlements) != 0 {
		t.Fatalf("expected empty restore, got %+v", result)
	}
}
