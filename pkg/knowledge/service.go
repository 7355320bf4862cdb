package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/llm"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// rrfK is the rank-smoothing constant for Reciprocal Rank Fusion.
const rrfK = 60

// Service manages the tenant knowledge base: ingestion of documents and
// conversation memory, and hybrid retrieval.
type Service struct {
	repo    repositories.KnowledgeRepository
	llm     llm.Client
	chunker *Chunker
	cfg     *config.KnowledgeConfig
	dim     int
	logger  *zap.Logger
}

// NewService creates a knowledge Service.
func NewService(
	repo repositories.KnowledgeRepository,
	llmClient llm.Client,
	cfg *config.KnowledgeConfig,
	embeddingDimension int,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:    repo,
		llm:     llmClient,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:     cfg,
		dim:     embeddingDimension,
		logger:  logger.Named("knowledge"),
	}
}

// Ingest extracts text from an uploaded document, chunks it, embeds each
// chunk and stores the result. Returns the number of chunks stored.
func (s *Service) Ingest(ctx context.Context, tenantID uuid.UUID, raw []byte, filename, category string) (int, error) {
	text, err := ExtractText(raw, filename)
	if err != nil {
		return 0, fmt.Errorf("failed to extract text from %s: %w", filename, err)
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	embeddings, err := s.llm.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}

	items := make([]*models.KnowledgeItem, len(chunks))
	for i, chunk := range chunks {
		items[i] = &models.KnowledgeItem{
			TenantID:  tenantID,
			Category:  category,
			Title:     fmt.Sprintf("%s (part %d)", filename, i+1),
			Content:   chunk,
			Embedding: NormalizeDimension(embeddings[i], s.dim),
			Metadata: map[string]any{
				"source_file": filename,
				"chunk_index": i,
			},
		}
	}

	if err := s.repo.CreateBatch(ctx, items); err != nil {
		return 0, fmt.Errorf("failed to store knowledge chunks: %w", err)
	}

	s.logger.Info("document ingested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))

	return len(chunks), nil
}

// IndexMessage stores one conversation message as prospect-scoped memory.
func (s *Service) IndexMessage(ctx context.Context, tenantID, prospectID uuid.UUID, sender, content string) error {
	if len(content) <= minChunkLength {
		return nil
	}

	embedding, err := s.llm.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed message: %w", err)
	}

	item := &models.KnowledgeItem{
		TenantID:   tenantID,
		ProspectID: &prospectID,
		Category:   "chat_history",
		Title:      sender,
		Content:    content,
		Embedding:  NormalizeDimension(embedding, s.dim),
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return fmt.Errorf("failed to store message memory: %w", err)
	}

	return nil
}

// Search runs hybrid retrieval: vector and lexical candidate lists for the
// same tenant+prospect scope, fused by Reciprocal Rank Fusion. Lexical
// failure degrades to vector-only ranking with a warning.
func (s *Service) Search(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, query string, limit int) ([]*models.ScoredKnowledgeItem, error) {
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}

	embedding, err := s.llm.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	embedding = NormalizeDimension(embedding, s.dim)

	// Over-fetch both lists so fusion has enough candidates to reorder.
	candidateLimit := limit * 2
	if candidateLimit < 10 {
		candidateLimit = 10
	}

	vectorHits, err := s.repo.SearchVector(ctx, tenantID, prospectID, embedding, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	lexicalHits, err := s.repo.SearchLexical(ctx, tenantID, prospectID, query, candidateLimit)
	if err != nil {
		s.logger.Warn("lexical search failed, falling back to vector-only ranking",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		lexicalHits = nil
	}

	fused := FuseRRF(vectorHits, lexicalHits)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	return fused, nil
}

// Clear deletes all knowledge for a tenant. Returns the number of items
// removed.
func (s *Service) Clear(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	deleted, err := s.repo.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("knowledge base cleared",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// DeleteDocument removes every item ingested from the named source,
// including its chunks. Returns the number of items removed.
func (s *Service) DeleteDocument(ctx context.Context, tenantID uuid.UUID, title string) (int64, error) {
	deleted, err := s.repo.DeleteByTitle(ctx, tenantID, title)
	if err != nil {
		return 0, err
	}

	s.logger.Info("knowledge document deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("title", title),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// Count reports how many knowledge items the tenant has stored.
func (s *Service) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.repo.CountByTenant(ctx, tenantID)
}

// FuseRRF merges ranked candidate lists with Reciprocal Rank Fusion: each
// item scores the sum of 1/(k+rank+1) over the lists it appears in, then
// items sort descending by fused score.
func FuseRRF(lists ...[]*models.ScoredKnowledgeItem) []*models.ScoredKnowledgeItem {
	type entry struct {
		item  *models.ScoredKnowledgeItem
		score float64
	}
	merged := make(map[uuid.UUID]*entry)
	order := make([]uuid.UUID, 0)

	for _, list := range lists {
		for rank, item := range list {
			score := 1.0 / float64(rrfK+rank+1)
			if e, ok := merged[item.ID]; ok {
				e.score += score
			} else {
				merged[item.ID] = &entry{item: item, score: score}
				order = append(order, item.ID)
			}
		}
	}

	out := make([]*models.ScoredKnowledgeItem, 0, len(merged))
	for _, id := range order {
		e := merged[id]
		e.item.Score = e.score
		out = append(out, e.item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}

// NormalizeDimension pads with zeros or truncates an embedding to the target
// dimension so stored vectors stay mutually comparable across provider
// drift.
func NormalizeDimension(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	if len(v) > dim {
		return v[:dim]
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
