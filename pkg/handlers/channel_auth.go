package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/channel"
)

// ChannelAuthHandler exposes the human-like channel's multi-step login flow.
type ChannelAuthHandler struct {
	manager *channel.Manager
	logger  *zap.Logger
}

// NewChannelAuthHandler creates a new ChannelAuthHandler.
func NewChannelAuthHandler(manager *channel.Manager, logger *zap.Logger) *ChannelAuthHandler {
	return &ChannelAuthHandler{manager: manager, logger: logger.Named("channel-auth")}
}

// RegisterRoutes registers the auth flow routes on the given mux.
func (h *ChannelAuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/channel/auth/start", h.Start)
	mux.HandleFunc("POST /api/channel/auth/code", h.Code)
	mux.HandleFunc("POST /api/channel/auth/password", h.Password)
	mux.HandleFunc("POST /api/channel/active", h.Active)
	mux.HandleFunc("GET /api/channel/connected", h.Connected)
}

type startAuthRequest struct {
	TenantID string `json:"tenant_id"`
	Phone    string `json:"phone"`
	APIID    int    `json:"api_id"`
	APIHash  string `json:"api_hash"`
	ForceSMS bool   `json:"force_sms"`
}

// Start handles POST /api/channel/auth/start.
func (h *ChannelAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	deliveredVia, err := h.manager.StartAuth(r.Context(), tenantID, req.Phone, req.APIID, req.APIHash, req.ForceSMS)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]string{
		"status":        "code_sent",
		"delivered_via": deliveredVia,
	})
}

type codeRequest struct {
	TenantID string `json:"tenant_id"`
	Code     string `json:"code"`
}

// Code handles POST /api/channel/auth/code.
func (h *ChannelAuthHandler) Code(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	passwordRequired, err := h.manager.VerifyCode(r.Context(), tenantID, req.Code)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	status := "connected"
	if passwordRequired {
		status = "password_required"
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

type passwordRequest struct {
	TenantID string `json:"tenant_id"`
	Password string `json:"password"`
}

// Password handles POST /api/channel/auth/password.
func (h *ChannelAuthHandler) Password(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	if err := h.manager.SubmitPassword(r.Context(), tenantID, req.Password); err != nil {
		h.writeAuthError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

type activeRequest struct {
	TenantID string `json:"tenant_id"`
	Active   bool   `json:"active"`
}

// Active handles POST /api/channel/active, pausing or resuming a session.
func (h *ChannelAuthHandler) Active(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	if err := h.manager.SetActive(r.Context(), tenantID, req.Active); err != nil {
		h.logger.Error("failed to toggle session", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to update session")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// Connected handles GET /api/channel/connected, listing tenants with a
// live connection.
func (h *ChannelAuthHandler) Connected(w http.ResponseWriter, r *http.Request) {
	ids := h.manager.ConnectedTenants()
	tenants := make([]string, 0, len(ids))
	for _, id := range ids {
		tenants = append(tenants, id.String())
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

// writeAuthError maps typed auth errors to responses the operator UI can
// show verbatim.
func (h *ChannelAuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var authErr *channel.AuthError
	if errors.As(err, &authErr) {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, string(authErr.Kind), authErr.Error())
		return
	}
	if errors.Is(err, apperrors.ErrNoAuthFlow) {
		_ = ErrorResponse(w, http.StatusConflict, "no_auth_flow", "no login flow in progress, start again")
		return
	}
	h.logger.Error("auth flow failed", zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "auth flow failed")
}
