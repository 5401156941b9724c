package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
)

var (
	ErrValidation               = errors.New("validation error")
	ErrEntitlementNotFound      = errors.New("entitlement not found")
	ErrEntitlementNotActive     = errors.New("entitlement is not active")
	ErrQuotaExceeded            = errors.New("entitlement quota exceeded")
	ErrCategoryChangeNotAllowed = errors.New("category change not allowed by plan")
	ErrAlreadyAttached          = errors.New("entitlement already attached to a job post")
	ErrJobPostNotFound          = errors.New("job post not found")
)

type Store interface {
	FindByID(ctx context.Context, entitlementID int64) (pgrepo.EntitlementRecord, error)
	ListActiveForUser(ctx context.Context, userID int64, asOf time.Time) ([]pgrepo.EntitlementRecord, error)
	ConsumeEdit(ctx context.Context, entitlementID int64, asOf time.Time) (pgrepo.EntitlementRecord, error)
	ConsumeCategoryChange(ctx context.Context, entitlementID int64, asOf time.Time) (pgrepo.EntitlementRecord, error)
	AttachJobPost(ctx context.Context, entitlementID, userID, jobPostID int64, asOf time.Time) (pgrepo.EntitlementRecord, error)
}

type JobPostStore interface {
	FindOwned(ctx context.Context, jobPostID, userID int64) (pgrepo.JobPostRecord, error)
}

type Service struct {
	store    Store
	jobPosts JobPostStore
	now      func() time.Time
}

// Entitlement is the service-level view of a ledger row.
type Entitlement struct {
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
	Status                enums.EntitlementStatus
}

func FromRecord(record pgrepo.EntitlementRecord) Entitlement {
	return Entitlement{
		ID:                    record.ID,
		UserID:                record.UserID,
		JobPostID:             record.JobPostID,
		PlanKey:               record.PlanKey,
		Source:                record.Source,
		TransactionID:         record.TransactionID,
		OriginalTransactionID: record.OriginalTransactionID,
		MaxEdits:              record.MaxEdits,
		EditsUsed:             record.EditsUsed,
		AllowCategoryChange:   record.AllowCategoryChange,
		MaxCategoryChanges:    record.MaxCategoryChanges,
		CategoryChangesUsed:   record.CategoryChangesUsed,
		ExpiresAt:             record.ExpiresAt,
		Status:                enums.EntitlementStatus(record.Status),
	}
}

func NewService(store Store, jobPosts JobPostStore) *Service {
	return &Service{
		store:    store,
		jobPosts: jobPosts,
		now:      time.Now,
	}
}

func (s *Service) ListActive(ctx context.Context, userID int64) ([]Entitlement, error) {
	if userID <= 0 {
		return nil, ErrValidation
	}
	if s.store == nil {
		return nil, fmt.Errorf("entitlement store is nil")
	}

	records, err := s.store.ListActiveForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	entitlements := make([]Entitlement, 0, len(records))
	for _, record := range records {
		entitlements = append(entitlements, FromRecord(record))
	}

	return entitlements, nil
}

// ConsumeEdit spends one free-edit unit. The increment itself is a single
// conditional update in the store, so parallel consumers cannot push
// edits_used past max_edits.
func (s *Service) ConsumeEdit(ctx context.Context, userID, entitlementID int64) (Entitlement, error) {
	if err := s.authorize(ctx, userID, entitlementID); err != nil {
		return Entitlement{}, err
	}

	record, err := s.store.ConsumeEdit(ctx, entitlementID, s.now().UTC())
	if err != nil {
		return Entitlement{}, mapLedgerError(err)
	}

	return FromRecord(record), nil
}

func (s *Service) ConsumeCategoryChange(ctx context.Context, userID, entitlementID int64) (Entitlement, error) {
	if err := s.authorize(ctx, userID, entitlementID); err != nil {
		return Entitlement{}, err
	}

	record, err := s.store.ConsumeCategoryChange(ctx, entitlementID, s.now().UTC())
	if err != nil {
		return Entitlement{}, mapLedgerError(err)
	}

	return FromRecord(record), nil
}

// Attach binds a pending entitlement to a job post owned by the caller.
// Follow-up operation for purchases made before the listing existed.
func (s *Service) Attach(ctx context.Context, userID, entitlementID, jobPostID int64) (Entitlement, error) {
	if userID <= 0 || entitlementID <= 0 || jobPostID <= 0 {
		return Entitlement{}, ErrValidation
	}
	if s.store == nil || s.jobPosts == nil {
		return Entitlement{}, fmt.Errorf("entitlements dependencies are not configured")
	}

	if _, err := s.jobPosts.FindOwned(ctx, jobPostID, userID); err != nil {
		if errors.Is(err, pgrepo.ErrJobPostNotFound) {
			return Entitlement{}, ErrJobPostNotFound
		}
		return Entitlement{}, err
	}

	record, err := s.store.AttachJobPost(ctx, entitlementID, userID, jobPostID, s.now().UTC())
	if err != nil {
		return Entitlement{}, mapLedgerError(err)
	}

	return FromRecord(record), nil
}

func (s *Service) authorize(ctx context.Context, userID, entitlementID int64) error {
	if userID <= 0 || entitlementID <= 0 {
		return ErrValidation
	}
	if s.store == nil {
		return fmt.Errorf("entitlement store is nil")
	}

	existing, err := s.store.FindByID(ctx, entitlementID)
	if err != nil {
		return mapLedgerError(err)
	}
	// Hide other users' entitlements instead of revealing their existence.
	if existing.UserID != userID {
		return ErrEntitlementNotFound
	}

	return nil
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrEntitlementNotFound):
		return ErrEntitlementNotFound
	case errors.Is(err, pgrepo.ErrEntitlementNotActive):
		return ErrEntitlementNotActive
	case errors.Is(err, pgrepo.ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, pgrepo.ErrCategoryChangeNotAllowed):
		return ErrCategoryChangeNotAllowed
	case errors.Is(err, pgrepo.ErrJobPostAlreadyAttached):
		return ErrAlreadyAttached
	default:
		return err
	}
}
