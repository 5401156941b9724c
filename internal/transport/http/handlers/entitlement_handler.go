package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	authsvc "github.com/antonkalach/jobdeck/backend/internal/services/auth"
	entsvc "github.com/antonkalach/jobdeck/backend/internal/services/entitlements"
	"github.com/antonkalach/jobdeck/backend/internal/transport/http/dto"
	httperrors "github.com/antonkalach/jobdeck/backend/internal/transport/http/errors"
)

type EntitlementHandler struct {
	entitlements *entsvc.Service
}

func NewEntitlementHandler(entitlements *entsvc.Service) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

func (h *EntitlementHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return
	}

	entitlements, err := h.entitlements.ListActive(r.Context(), identity.UserID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}

	out := make([]dto.EntitlementResponse, 0, len(entitlements))
	for _, ent := range entitlements {
		out = append(out, entitlementResponse(ent))
	}

	httperrors.Write(w, http.StatusOK, dto.EntitlementListResponse{Entitlements: out})
}

func (h *EntitlementHandler) ConsumeEdit(w http.ResponseWriter, r *http.Request) {
	identity, entitlementID, ok := h.requireOwnedID(w, r)
	if !ok {
		return
	}

	ent, err := h.entitlements.ConsumeEdit(r.Context(), identity.UserID, entitlementID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, entitlementResponse(ent))
}

func (h *EntitlementHandler) ConsumeCategoryChange(w http.ResponseWriter, r *http.Request) {
	identity, entitlementID, ok := h.requireOwnedID(w, r)
	if !ok {
		return
	}

	ent, err := h.entitlements.ConsumeCategoryChange(r.Context(), identity.UserID, entitlementID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, entitlementResponse(ent))
}

func (h *EntitlementHandler) Attach(w http.ResponseWriter, r *http.Request) {
	identity, entitlementID, ok := h.requireOwnedID(w, r)
	if !ok {
		return
	}

	var req dto.AttachJobPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	ent, err := h.entitlements.Attach(r.Context(), identity.UserID, entitlementID, req.JobPostID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, entitlementResponse(ent))
}

func (h *EntitlementHandler) requireOwnedID(w http.ResponseWriter, r *http.Request) (authsvc.Identity, int64, bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, 0, false
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return authsvc.Identity{}, 0, false
	}

	rawID := strings.TrimSpace(chi.URLParam(r, "id"))
	entitlementID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || entitlementID <= 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "entitlement id must be a positive integer")
		return authsvc.Identity{}, 0, false
	}

	return identity, entitlementID, true
}

func handleEntitlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "request validation failed")
	case errors.Is(err, entsvc.ErrEntitlementNotFound):
		writeNotFound(w, "ENTITLEMENT_NOT_FOUND", "entitlement not found")
	case errors.Is(err, entsvc.ErrJobPostNotFound):
		writeNotFound(w, "JOB_POST_NOT_FOUND", "job post not found")
	case errors.Is(err, entsvc.ErrEntitlementNotActive):
		writeConflict(w, "ENTITLEMENT_NOT_ACTIVE", "entitlement is expired or revoked")
	case errors.Is(err, entsvc.ErrQuotaExceeded):
		writeConflict(w, "QUOTA_EXCEEDED", "entitlement quota exhausted")
	case errors.Is(err, entsvc.ErrCategoryChangeNotAllowed):
		writeConflict(w, "CATEGORY_CHANGE_NOT_ALLOWED", "plan does not include category changes")
	case errors.Is(err, entsvc.ErrAlreadyAttached):
		writeConflict(w, "ALREADY_ATTACHED", "entitlement is already attached to a job post")
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to process entitlement request")
	}
}
