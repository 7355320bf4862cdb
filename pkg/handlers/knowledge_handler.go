package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/knowledge"
)

// maxUploadBytes bounds one knowledge document upload.
const maxUploadBytes = 32 << 20

// KnowledgeHandler exposes knowledge-base document upload and reset.
type KnowledgeHandler struct {
	service *knowledge.Service
	logger  *zap.Logger
}

// NewKnowledgeHandler creates a new KnowledgeHandler.
func NewKnowledgeHandler(service *knowledge.Service, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{service: service, logger: logger.Named("knowledge-api")}
}

// RegisterRoutes registers the knowledge routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/knowledge/upload", h.Upload)
	mux.HandleFunc("POST /api/knowledge/delete", h.Delete)
	mux.HandleFunc("POST /api/knowledge/clear", h.Clear)
	mux.HandleFunc("GET /api/knowledge/stats", h.Stats)
}

// Upload handles POST /api/knowledge/upload. The document rides in a
// multipart "file" field; tenant_id and optional category are form values.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "expected multipart form upload")
		return
	}

	tenantID, err := uuid.Parse(r.FormValue("tenant_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing file field")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "failed to read upload")
		return
	}

	category := r.FormValue("category")

	chunks, err := h.service.Ingest(r.Context(), tenantID, raw, header.Filename, category)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmptyDocument) {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "empty_document", "no extractable text in document")
			return
		}
		h.logger.Error("ingestion failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("filename", header.Filename),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to ingest document")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"filename": header.Filename,
		"chunks":   chunks,
	})
}

// Delete handles POST /api/knowledge/delete, removing one ingested document
// and its chunks. tenant_id and title are form values.
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.FormValue("tenant_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}
	title := r.FormValue("title")
	if title == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	deleted, err := h.service.DeleteDocument(r.Context(), tenantID, title)
	if err != nil {
		h.logger.Error("failed to delete knowledge document",
			zap.String("tenant_id", tenantID.String()),
			zap.String("title", title), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to delete document")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Stats handles GET /api/knowledge/stats?tenant_id=...
func (h *KnowledgeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	count, err := h.service.Count(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to count knowledge items",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to read stats")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]int64{"items": count})
}

// Clear handles POST /api/knowledge/clear, deleting the tenant's knowledge base.
func (h *KnowledgeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.FormValue("tenant_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	deleted, err := h.service.Clear(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to clear knowledge base",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to clear knowledge base")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
