package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
	"github.com/antonkalach/jobdeck/backend/internal/pkg/validate"
	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProductNotFound = errors.New("product mapping not found")
	ErrPlanNotFound    = errors.New("plan not found")
)

type ProductStore interface {
	ResolvePlanKey(ctx context.Context, productID, platform string) (string, error)
	ListActive(ctx context.Context, platform string) ([]pgrepo.ProductMappingRecord, error)
}

type PlanStore interface {
	FindByKey(ctx context.Context, planKey string) (pgrepo.PlanRecord, error)
}

type Service struct {
	products ProductStore
	plans    PlanStore
}

// PlanTerms is the quota template snapshot handed to the issuing flow.
type PlanTerms struct {
	Key                 string
	DurationDays        int
	MaxEdits            int
	AllowCategoryChange bool
	MaxCategoryChanges  int
	HasFeaturedOption   bool
}

type Product struct {
	ProductID string
	Platform  enums.Platform
	PlanKey   string
}

func NewService(products ProductStore, plans PlanStore) *Service {
	return &Service{
		products: products,
		plans:    plans,
	}
}

func (s *Service) ResolvePlanKey(ctx context.Context, productID string, platform enums.Platform) (string, error) {
	if s.products == nil {
		return "", fmt.Errorf("product store is nil")
	}
	if !validate.Required(productID) {
		return "", ErrValidation
	}

	planKey, err := s.products.ResolvePlanKey(ctx, strings.TrimSpace(productID), string(platform))
	if err != nil {
		if errors.Is(err, pgrepo.ErrProductMappingNotFound) {
			return "", ErrProductNotFound
		}
		return "", err
	}

	return planKey, nil
}

func (s *Service) GetPlan(ctx context.Context, planKey string) (PlanTerms, error) {
	if s.plans == nil {
		return PlanTerms{}, fmt.Errorf("plan store is nil")
	}
	if !validate.Required(planKey) {
		return PlanTerms{}, ErrValidation
	}

	record, err := s.plans.FindByKey(ctx, planKey)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPlanNotFound) {
			return PlanTerms{}, ErrPlanNotFound
		}
		return PlanTerms{}, err
	}

	return PlanTerms{
		Key:                 record.Key,
		DurationDays:        record.DurationDays,
		MaxEdits:            record.MaxEdits,
		AllowCategoryChange: record.AllowCategoryChange,
		MaxCategoryChanges:  record.MaxCategoryChanges,
		HasFeaturedOption:   record.HasFeaturedOption,
	}, nil
}

func (s *Service) ListProducts(ctx context.Context, platform enums.Platform) ([]Product, error) {
	if s.products == nil {
		return nil, fmt.Errorf("product store is nil")
	}

	records, err := s.products.ListActive(ctx, string(platform))
	if err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(records))
	for _, record := range records {
		products = append(products, Product{
			ProductID: record.ProductID,
			Platform:  enums.Platform(record.Platform),
			PlanKey:   record.PlanKey,
		})
	}

	return products, nil
}
