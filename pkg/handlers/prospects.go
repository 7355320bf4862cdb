package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// ProspectsHandler exposes the operator-facing prospect list.
type ProspectsHandler struct {
	prospects repositories.ProspectRepository
	logger    *zap.Logger
}

// NewProspectsHandler creates a new ProspectsHandler.
func NewProspectsHandler(prospects repositories.ProspectRepository, logger *zap.Logger) *ProspectsHandler {
	return &ProspectsHandler{prospects: prospects, logger: logger.Named("prospects")}
}

// RegisterRoutes registers the prospect routes on the given mux.
func (h *ProspectsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prospects", h.List)
	mux.HandleFunc("POST /api/prospects/read", h.MarkRead)
}

// List handles GET /api/prospects?tenant_id=...&stage=..., newest activity
// first. The stage filter is optional.
func (h *ProspectsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	var stage *models.Stage
	if raw := r.URL.Query().Get("stage"); raw != "" {
		s := models.Stage(raw)
		if !s.IsValid() {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "unknown stage "+raw)
			return
		}
		stage = &s
	}

	prospects, err := h.prospects.ListByTenant(r.Context(), tenantID, stage)
	if err != nil {
		h.logger.Error("failed to list prospects", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to list prospects")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"prospects": prospects,
		"count":     len(prospects),
	})
}

type markReadRequest struct {
	TenantID   string `json:"tenant_id"`
	ProspectID string `json:"prospect_id"`
}

// MarkRead handles POST /api/prospects/read, zeroing the unread counter
// after an operator opens the thread.
func (h *ProspectsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}
	prospectID, err := uuid.Parse(req.ProspectID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "prospect_id must be a UUID")
		return
	}

	if err := h.prospects.MarkRead(r.Context(), tenantID, prospectID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "prospect not found")
			return
		}
		h.logger.Error("failed to mark prospect read", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to mark prospect read")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
