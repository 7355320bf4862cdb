package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/knowledge"
	"github.com/leadgate-ai/leadgate-engine/pkg/llm"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

type memKnowledgeRepo struct {
	items []*models.KnowledgeItem
}

func (r *memKnowledgeRepo) Create(_ context.Context, item *models.KnowledgeItem) error {
	r.items = append(r.items, item)
	return nil
}

func (r *memKnowledgeRepo) CreateBatch(_ context.Context, items []*models.KnowledgeItem) error {
	r.items = append(r.items, items...)
	return nil
}

func (r *memKnowledgeRepo) SearchVector(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ []float32, _ int) ([]*models.ScoredKnowledgeItem, error) {
	return nil, nil
}

func (r *memKnowledgeRepo) SearchLexical(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ string, _ int) ([]*models.ScoredKnowledgeItem, error) {
	return nil, nil
}

func (r *memKnowledgeRepo) DeleteByTitle(_ context.Context, _ uuid.UUID, title string) (int64, error) {
	var kept []*models.KnowledgeItem
	var deleted int64
	for _, item := range r.items {
		if item.Title == title || strings.HasPrefix(item.Title, title+" (part ") {
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	r.items = kept
	return deleted, nil
}

func (r *memKnowledgeRepo) DeleteByTenant(_ context.Context, _ uuid.UUID) (int64, error) {
	deleted := int64(len(r.items))
	r.items = nil
	return deleted, nil
}

func (r *memKnowledgeRepo) CountByTenant(_ context.Context, _ uuid.UUID) (int64, error) {
	return int64(len(r.items)), nil
}

func newKnowledgeHandler(repo *memKnowledgeRepo) *KnowledgeHandler {
	cfg := &config.KnowledgeConfig{ChunkSize: 1200, ChunkOverlap: 200, SearchLimit: 3}
	svc := knowledge.NewService(repo, &llm.MockClient{}, cfg, 8, zap.NewNop())
	return NewKnowledgeHandler(svc, zap.NewNop())
}

func uploadRequest(t *testing.T, tenantID, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("tenant_id", tenantID))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestKnowledgeHandler_Upload(t *testing.T) {
	repo := &memKnowledgeRepo{}
	handler := newKnowledgeHandler(repo)

	req := uploadRequest(t, uuid.NewString(), "pricing.txt",
		"Our kitchens start at 5000 euro and installation takes two weeks.")
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "pricing.txt", response["filename"])
	assert.Equal(t, float64(1), response["chunks"])
	assert.Len(t, repo.items, 1)
}

func TestKnowledgeHandler_UploadRejectsBadTenant(t *testing.T) {
	handler := newKnowledgeHandler(&memKnowledgeRepo{})

	req := uploadRequest(t, "not-a-uuid", "pricing.txt", "content")
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeHandler_UploadEmptyDocument(t *testing.T) {
	handler := newKnowledgeHandler(&memKnowledgeRepo{})

	req := uploadRequest(t, uuid.NewString(), "empty.txt", "   ")
	rec := httptest.NewRecorder()

	handler.Upload(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestKnowledgeHandler_DeleteRemovesDocumentChunks(t *testing.T) {
	repo := &memKnowledgeRepo{items: []*models.KnowledgeItem{
		{Title: "pricing.txt (part 1)"},
		{Title: "pricing.txt (part 2)"},
		{Title: "faq.txt (part 1)"},
	}}
	handler := newKnowledgeHandler(repo)

	form := bytes.NewBufferString("tenant_id=" + uuid.NewString() + "&title=pricing.txt")
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/delete", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler.Delete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, int64(2), response["deleted"])
	require.Len(t, repo.items, 1)
	assert.Equal(t, "faq.txt (part 1)", repo.items[0].Title)
}

func TestKnowledgeHandler_DeleteRequiresTitle(t *testing.T) {
	handler := newKnowledgeHandler(&memKnowledgeRepo{})

	form := bytes.NewBufferString("tenant_id=" + uuid.NewString())
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/delete", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler.Delete(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeHandler_Stats(t *testing.T) {
	repo := &memKnowledgeRepo{items: []*models.KnowledgeItem{{}, {}, {}}}
	handler := newKnowledgeHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge/stats?tenant_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	handler.Stats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, int64(3), response["items"])
}

func TestKnowledgeHandler_Clear(t *testing.T) {
	repo := &memKnowledgeRepo{items: []*models.KnowledgeItem{{}, {}}}
	handler := newKnowledgeHandler(repo)

	form := bytes.NewBufferString("tenant_id=" + uuid.NewString())
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/clear", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler.Clear(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, repo.items)
}
