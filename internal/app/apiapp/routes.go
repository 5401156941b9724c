package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antonkalach/jobdeck/backend/internal/config"
	authsvc "github.com/antonkalach/jobdeck/backend/internal/services/auth"
	billingsvc "github.com/antonkalach/jobdeck/backend/internal/services/billing"
	entsvc "github.com/antonkalach/jobdeck/backend/internal/services/entitlements"
	"github.com/antonkalach/jobdeck/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	BillingService     *billingsvc.Service
	EntitlementService *entsvc.Service
	JWTManager         *authsvc.JWTManager
	Logger             *zap.Logger
	Config             config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	billingHandler := handlers.NewBillingHandler(deps.BillingService)
	entitlementHandler := handlers.NewEntitlementHandler(deps.EntitlementService)
	authMW := AuthMiddleware(deps.JWTManager, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/billing", func(r chi.Router) {
		r.Get("/products", billingHandler.Products)
		r.With(authMW).Post("/verify", billingHandler.Verify)
		r.With(authMW).Post("/restore", billingHandler.Restore)
		r.With(authMW).Get("/entitlements", entitlementHandler.List)
		r.With(authMW).Post("/entitlements/{id}/attach", entitlementHandler.Attach)
		r.With(authMW).Post("/entitlements/{id}/consume-edit", entitlementHandler.ConsumeEdit)
		r.With(authMW).Post("/entitlements/{id}/consume-category-change", entitlementHandler.ConsumeCategoryChange)
	})

	r.Route("/v1/billing", func(r chi.Router) {
		r.Get("/products", billingHandler.Products)
		r.With(authMW).Post("/verify", billingHandler.Verify)
		r.With(authMW).Post("/restore", billingHandler.Restore)
		r.With(authMW).Get("/entitlements", entitlementHandler.List)
		r.With(authMW).Post("/entitlements/{id}/attach", entitlementHandler.Attach)
		r.With(authMW).Post("/entitlements/{id}/consume-edit", entitlementHandler.ConsumeEdit)
		r.With(authMW).Post("/entitlements/{id}/consume-category-change", entitlementHandler.ConsumeCategoryChange)
	})
}
