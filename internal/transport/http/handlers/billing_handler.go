package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	authsvc "github.com/antonkalach/jobdeck/backend/internal/services/auth"
	billingsvc "github.com/antonkalach/jobdeck/backend/internal/services/billing"
	entsvc "github.com/antonkalach/jobdeck/backend/internal/services/entitlements"
	"github.com/antonkalach/jobdeck/backend/internal/transport/http/dto"
	httperrors "github.com/antonkalach/jobdeck/backend/internal/transport/http/errors"
)

type BillingHandler struct {
	billing *billingsvc.Service
}

func NewBillingHandler(billing *billingsvc.Service) *BillingHandler {
	return &BillingHandler{billing: billing}
}

func (h *BillingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.VerifyPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.billing.VerifyPurchase(r.Context(), identity.UserID, billingsvc.VerifyInput{
		Platform:          req.Platform,
		ProductID:         req.ProductID,
		SignedTransaction: req.SignedTransaction,
		SignedRenewalInfo: req.SignedRenewalInfo,
		PurchaseToken:     req.PurchaseToken,
		OrderID:           req.OrderID,
		JobPostID:         req.JobPostID,
	})
	if err != nil {
		handleBillingError(w, err)
		return
	}

	status := http.StatusOK
	if result.AlreadyProcessed {
		// The purchase was applied on an earlier call; the body still carries
		// the issued entitlement so clients can reconcile.
		status = http.StatusConflict
	}

	httperrors.Write(w, status, dto.VerifyPurchaseResponse{
		OK:               true,
		AlreadyProcessed: result.AlreadyProcessed,
		Entitlement:      entitlementResponse(result.Entitlement),
	})
}

func (h *BillingHandler) Restore(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.RestorePurchasesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.billing.RestorePurchases(r.Context(), identity.UserID, req.Platform)
	if err != nil {
		handleBillingError(w, err)
		return
	}

	restored := make([]dto.RestoredEntitlement, 0, len(result.Entitlements))
	for _, item := range result.Entitlements {
		out := dto.RestoredEntitlement{Entitlement: entitlementResponse(item.Entitlement)}
		if item.JobPost != nil {
			out.JobPost = &dto.JobPostSummary{
				ID:     item.JobPost.ID,
				Title:  item.JobPost.Title,
				Status: item.JobPost.Status,
			}
		}
		restored = append(restored, out)
	}

	httperrors.Write(w, http.StatusOK, dto.RestorePurchasesResponse{
		RestoredCount: result.RestoredCount,
		Entitlements:  restored,
	})
}

func (h *BillingHandler) Products(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	products, err := h.billing.ListProducts(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		handleBillingError(w, err)
		return
	}

	out := make([]dto.ProductResponse, 0, len(products))
	for _, product := range products {
		out = append(out, dto.ProductResponse{
			ProductID: product.ProductID,
			Platform:  string(product.Platform),
			PlanKey:   product.PlanKey,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.ProductListResponse{Products: out})
}

func handleBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billingsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "request validation failed")
	case errors.Is(err, billingsvc.ErrUnsupportedPlatform):
		writeBadRequest(w, "UNSUPPORTED_PLATFORM", "platform must be ios or android")
	case errors.Is(err, billingsvc.ErrProductNotFound):
		writeNotFound(w, "PRODUCT_NOT_FOUND", "product is not mapped to any plan")
	case errors.Is(err, billingsvc.ErrPlanNotFound):
		writeNotFound(w, "PLAN_NOT_FOUND", "plan not found")
	case errors.Is(err, billingsvc.ErrJobPostNotFound):
		writeNotFound(w, "JOB_POST_NOT_FOUND", "job post not found")
	case errors.Is(err, billingsvc.ErrInvalidReceipt):
		httperrors.Write(w, http.StatusUnprocessableEntity, httperrors.APIError{
			Code:    "INVALID_RECEIPT",
			Message: "purchase proof failed verification",
		})
	case errors.Is(err, billingsvc.ErrVerificationUnavailable):
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "VERIFICATION_UNAVAILABLE",
			Message: "store verification is temporarily unavailable",
		})
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to process billing request")
	}
}

func entitlementResponse(ent entsvc.Entitlement) dto.EntitlementResponse {
	remaining := ent.MaxEdits - ent.EditsUsed
	if remaining < 0 {
		remaining = 0
	}

	return dto.EntitlementResponse{
		ID:                  ent.ID,
		JobPostID:           ent.JobPostID,
		PlanKey:             ent.PlanKey,
		Source:              ent.Source,
		MaxEdits:            ent.MaxEdits,
		EditsUsed:           ent.EditsUsed,
		EditsRemaining:      remaining,
		AllowCategoryChange: ent.AllowCategoryChange,
		MaxCategoryChanges:  ent.MaxCategoryChanges,
		CategoryChangesUsed: ent.CategoryChangesUsed,
		ExpiresAt:           ent.ExpiresAt,
		Status:              string(ent.Status),
	}
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeConflict(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusConflict, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
