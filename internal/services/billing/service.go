package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
	catalogsvc "github.com/antonkalach/jobdeck/backend/internal/services/catalog"
	entsvc "github.com/antonkalach/jobdeck/backend/internal/services/entitlements"
	"github.com/antonkalach/jobdeck/backend/internal/services/receipts"
)

var (
	ErrValidation              = errors.New("validation error")
	ErrUnsupportedPlatform     = errors.New("unsupported platform")
	ErrProductNotFound         = errors.New("product mapping not found")
	ErrPlanNotFound            = errors.New("plan not found")
	ErrInvalidReceipt          = errors.New("invalid purchase proof")
	ErrVerificationUnavailable = errors.New("verification service unavailable")
	ErrJobPostNotFound         = errors.New("job post not found")
)

type Catalog interface {
	ResolvePlanKey(ctx context.Context, productID string, platform enums.Platform) (string, error)
	GetPlan(ctx context.Context, planKey string) (catalogsvc.PlanTerms, error)
	ListProducts(ctx context.Context, platform enums.Platform) ([]catalogsvc.Product, error)
}

type LedgerStore interface {
	Issue(ctx context.Context, params pgrepo.IssueEntitlementParams) (pgrepo.EntitlementRecord, error)
	FindByTransactionID(ctx context.Context, transactionID string) (pgrepo.EntitlementRecord, error)
	ListActiveForUser(ctx context.Context, userID int64, asOf time.Time) ([]pgrepo.EntitlementRecord, error)
}

type JobPostStore interface {
	FindOwned(ctx context.Context, jobPostID, userID int64) (pgrepo.JobPostRecord, error)
	FindMany(ctx context.Context, jobPostIDs []int64) (map[int64]pgrepo.JobPostRecord, error)
}

// ReplayCache is the optional fast-path in front of the ledger constraint.
// Failures here are logged and ignored; correctness never depends on it.
type ReplayCache interface {
	Seen(ctx context.Context, transactionID string) (bool, error)
	MarkSeen(ctx context.Context, transactionID string, ttl time.Duration) error
}

type Config struct {
	VerifyTimeout  time.Duration
	ReplayCacheTTL time.Duration
}

type Dependencies struct {
	Catalog     Catalog
	Verifiers   map[enums.Platform]receipts.Verifier
	Ledger      LedgerStore
	JobPosts    JobPostStore
	ReplayCache ReplayCache
	Logger      *zap.Logger
}

type Service struct {
	catalog     Catalog
	verifiers   map[enums.Platform]receipts.Verifier
	ledger      LedgerStore
	jobPosts    JobPostStore
	replayCache ReplayCache
	logger      *zap.Logger
	cfg         Config
	now         func() time.Time
}

type VerifyInput struct {
	Platform          string
	ProductID         string
	SignedTransaction string
	SignedRenewalInfo string
	PurchaseToken     string
	OrderID           string
	JobPostID         *int64
}

type VerifyResult struct {
	Entitlement entsvc.Entitlement
	// AlreadyProcessed marks a replayed transaction token. The purchase was
	// applied once before; the caller should treat this as "already yours",
	// not as a failure.
	AlreadyProcessed bool
}

type JobPostSummary struct {
	ID     int64
	Title  string
	Status string
}

type RestoredEntitlement struct {
	Entitlement entsvc.Entitlement
	JobPost     *JobPostSummary
}

type RestoreResult struct {
	RestoredCount int
	Entitlements  []RestoredEntitlement
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	if cfg.ReplayCacheTTL <= 0 {
		cfg.ReplayCacheTTL = 24 * time.Hour
	}

	return &Service{
		catalog:     deps.Catalog,
		verifiers:   deps.Verifiers,
		ledger:      deps.Ledger,
		jobPosts:    deps.JobPosts,
		replayCache: deps.ReplayCache,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// VerifyPurchase turns a platform purchase proof into an entitlement:
// verify the proof, resolve the product to plan terms, check the optional
// target job post, then issue. Verification always completes before the
// issuing write begins, and the write happens at most once per transaction
// token.
func (s *Service) VerifyPurchase(ctx context.Context, userID int64, in VerifyInput) (VerifyResult, error) {
	if userID <= 0 {
		return VerifyResult{}, ErrValidation
	}
	if s.catalog == nil || s.ledger == nil {
		return VerifyResult{}, fmt.Errorf("billing dependencies are not configured")
	}

	platform, ok := enums.ParsePlatform(in.Platform)
	if !ok {
		return VerifyResult{}, ErrUnsupportedPlatform
	}
	verifier, ok := s.verifiers[platform]
	if !ok {
		return VerifyResult{}, ErrUnsupportedPlatform
	}

	purchase, err := s.verifyProof(ctx, verifier, platform, in)
	if err != nil {
		return VerifyResult{}, err
	}

	// The verified product id is authoritative; the client-declared one is
	// only a hint for the store round trip.
	planKey, err := s.catalog.ResolvePlanKey(ctx, purchase.ProductID, platform)
	if err != nil {
		return VerifyResult{}, mapCatalogError(err)
	}
	plan, err := s.catalog.GetPlan(ctx, planKey)
	if err != nil {
		return VerifyResult{}, mapCatalogError(err)
	}

	if replayed, result := s.replayFastPath(ctx, purchase.TransactionID); replayed {
		return result, nil
	}

	if in.JobPostID != nil {
		if s.jobPosts == nil {
			return VerifyResult{}, fmt.Errorf("job post store is nil")
		}
		if _, err := s.jobPosts.FindOwned(ctx, *in.JobPostID, userID); err != nil {
			if errors.Is(err, pgrepo.ErrJobPostNotFound) {
				return VerifyResult{}, ErrJobPostNotFound
			}
			return VerifyResult{}, err
		}
	}

	now := s.now().UTC()
	record, err := s.ledger.Issue(ctx, pgrepo.IssueEntitlementParams{
		UserID:                userID,
		JobPostID:             in.JobPostID,
		PlanKey:               plan.Key,
		Source:                string(enums.SourceForPlatform(platform)),
		TransactionID:         purchase.TransactionID,
		OriginalTransactionID: purchase.OriginalTransactionID,
		MaxEdits:              plan.MaxEdits,
		AllowCategoryChange:   plan.AllowCategoryChange,
		MaxCategoryChanges:    plan.MaxCategoryChanges,
		ExpiresAt:             now.AddDate(0, 0, plan.DurationDays),
		RawPayload:            rawPayloadSnapshot(platform, in, purchase),
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrTransactionConflict) {
			// The constraint is the authoritative replay signal; surface the
			// previously issued entitlement.
			existing, findErr := s.ledger.FindByTransactionID(ctx, purchase.TransactionID)
			if findErr != nil {
				return VerifyResult{}, findErr
			}
			s.markSeen(ctx, purchase.TransactionID)
			return VerifyResult{Entitlement: entsvc.FromRecord(existing), AlreadyProcessed: true}, nil
		}
		return VerifyResult{}, err
	}

	s.markSeen(ctx, purchase.TransactionID)
	s.logger.Info("entitlement issued",
		zap.Int64("user_id", userID),
		zap.String("plan_key", plan.Key),
		zap.String("platform", string(platform)),
		zap.Int64("entitlement_id", record.ID),
	)

	return VerifyResult{Entitlement: entsvc.FromRecord(record)}, nil
}

// RestorePurchases returns the caller's currently active entitlements with
// minimal job post metadata. Purely reconciliatory, never writes.
func (s *Service) RestorePurchases(ctx context.Context, userID int64, platformRaw string) (RestoreResult, error) {
	if userID <= 0 {
		return RestoreResult{}, ErrValidation
	}
	if s.ledger == nil {
		return RestoreResult{}, fmt.Errorf("ledger store is nil")
	}

	platform, ok := enums.ParsePlatform(platformRaw)
	if !ok {
		return RestoreResult{}, ErrUnsupportedPlatform
	}
	source := string(enums.SourceForPlatform(platform))

	records, err := s.ledger.ListActiveForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return RestoreResult{}, err
	}

	var (
		restored   []RestoredEntitlement
		jobPostIDs []int64
	)
	for _, record := range records {
		if record.Source != source {
			continue
		}
		restored = append(restored, RestoredEntitlement{Entitlement: entsvc.FromRecord(record)})
		if record.JobPostID != nil {
			jobPostIDs = append(jobPostIDs, *record.JobPostID)
		}
	}

	if len(jobPostIDs) > 0 && s.jobPosts != nil {
		posts, err := s.jobPosts.FindMany(ctx, jobPostIDs)
		if err != nil {
			return RestoreResult{}, err
		}
		for i := range restored {
			id := restored[i].Entitlement.JobPostID
			if id == nil {
				continue
			}
			if post, ok := posts[*id]; ok {
				restored[i].JobPost = &JobPostSummary{
					ID:     post.ID,
					Title:  post.Title,
					Status: post.Status,
				}
			}
		}
	}

	return RestoreResult{
		RestoredCount: len(restored),
		Entitlements:  restored,
	}, nil
}

func (s *Service) ListProducts(ctx context.Context, platformRaw string) ([]catalogsvc.Product, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("catalog service is nil")
	}

	platform, ok := enums.ParsePlatform(platformRaw)
	if !ok {
		return nil, ErrUnsupportedPlatform
	}

	return s.catalog.ListProducts(ctx, platform)
}

// verifyProof runs the platform verifier under its own deadline so a slow
// store API can never hold the issuing path hostage. No store transaction is
// open yet at this point.
func (s *Service) verifyProof(ctx context.Context, verifier receipts.Verifier, platform enums.Platform, in VerifyInput) (receipts.Purchase, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	purchase, err := verifier.Verify(verifyCtx, receipts.Proof{
		Platform:          platform,
		ProductID:         in.ProductID,
		SignedTransaction: in.SignedTransaction,
		SignedRenewalInfo: in.SignedRenewalInfo,
		PurchaseToken:     in.PurchaseToken,
		OrderID:           in.OrderID,
	})
	if err != nil {
		switch {
		case errors.Is(err, receipts.ErrInvalidProof):
			return receipts.Purchase{}, ErrInvalidReceipt
		case errors.Is(err, receipts.ErrVerificationUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			return receipts.Purchase{}, ErrVerificationUnavailable
		default:
			return receipts.Purchase{}, err
		}
	}
	if purchase.TransactionID == "" || purchase.ProductID == "" {
		return receipts.Purchase{}, ErrInvalidReceipt
	}

	return purchase, nil
}

func (s *Service) replayFastPath(ctx context.Context, transactionID string) (bool, VerifyResult) {
	if s.replayCache == nil {
		return false, VerifyResult{}
	}

	seen, err := s.replayCache.Seen(ctx, transactionID)
	if err != nil {
		s.logger.Debug("replay cache lookup failed", zap.Error(err))
		return false, VerifyResult{}
	}
	if !seen {
		return false, VerifyResult{}
	}

	existing, err := s.ledger.FindByTransactionID(ctx, transactionID)
	if err != nil {
		// Stale cache entry; let the insert and its constraint decide.
		return false, VerifyResult{}
	}

	return true, VerifyResult{Entitlement: entsvc.FromRecord(existing), AlreadyProcessed: true}
}

func (s *Service) markSeen(ctx context.Context, transactionID string) {
	if s.replayCache == nil {
		return
	}
	if err := s.replayCache.MarkSeen(ctx, transactionID, s.cfg.ReplayCacheTTL); err != nil {
		s.logger.Debug("replay cache mark failed", zap.Error(err))
	}
}

func rawPayloadSnapshot(platform enums.Platform, in VerifyInput, purchase receipts.Purchase) map[string]any {
	snapshot := map[string]any{
		"platform":       string(platform),
		"product_id":     purchase.ProductID,
		"transaction_id": purchase.TransactionID,
	}
	if in.SignedTransaction != "" {
		snapshot["signed_transaction"] = in.SignedTransaction
	}
	if in.SignedRenewalInfo != "" {
		snapshot["signed_renewal_info"] = in.SignedRenewalInfo
	}
	if in.PurchaseToken != "" {
		snapshot["purchase_token"] = in.PurchaseToken
	}
	if in.OrderID != "" {
		snapshot["order_id"] = in.OrderID
	}
	return snapshot
}

func mapCatalogError(err error) error {
	switch {
	case errors.Is(err, catalogsvc.ErrProductNotFound):
		return ErrProductNotFound
	case errors.Is(err, catalogsvc.ErrPlanNotFound):
		return ErrPlanNotFound
	case errors.Is(err, catalogsvc.ErrValidation):
		return ErrValidation
	default:
		return err
	}
}
