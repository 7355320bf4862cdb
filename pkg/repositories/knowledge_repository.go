package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// KnowledgeRepository provides data access for embedded knowledge chunks.
//
// Search visibility follows that of conversation memory: shared tenant items
// (prospect_id IS NULL) are always visible, items scoped to a prospect only
// when searching on behalf of that prospect.
type KnowledgeRepository interface {
	Create(ctx context.Context, item *models.KnowledgeItem) error
	CreateBatch(ctx context.Context, items []*models.KnowledgeItem) error
	SearchVector(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, embedding []float32, limit int) ([]*models.ScoredKnowledgeItem, error)
	SearchLexical(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, query string, limit int) ([]*models.ScoredKnowledgeItem, error)
	// DeleteByTitle removes items with the given title, including the
	// "(part N)" chunks of a document ingested under that name.
	DeleteByTitle(ctx context.Context, tenantID uuid.UUID, title string) (int64, error)
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

type knowledgeRepository struct {
	db *database.DB
}

// NewKnowledgeRepository creates a new KnowledgeRepository.
func NewKnowledgeRepository(db *database.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

func (r *knowledgeRepository) Create(ctx context.Context, item *models.KnowledgeItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	var metadata []byte
	if item.Metadata != nil {
		var err error
		metadata, err = json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal knowledge metadata: %w", err)
		}
	}

	query := `
		INSERT INTO knowledge_items (
			id, tenant_id, prospect_id, category, title, content, embedding, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		item.ID, item.TenantID, item.ProspectID, item.Category, item.Title,
		item.Content, vectorLiteral(item.Embedding), metadata,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge item: %w", err)
	}

	return nil
}

func (r *knowledgeRepository) CreateBatch(ctx context.Context, items []*models.KnowledgeItem) error {
	for _, item := range items {
		if err := r.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *knowledgeRepository) SearchVector(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, embedding []float32, limit int) ([]*models.ScoredKnowledgeItem, error) {
	query := `
		SELECT id, tenant_id, prospect_id, category, title, content, metadata, created_at,
		       1 - (embedding <=> $3::vector) AS score
		FROM knowledge_items
		WHERE tenant_id = $1
		  AND (prospect_id IS NULL OR prospect_id = $2)
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> $3::vector
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, tenantID, prospectID, vectorLiteral(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	return collectScoredItems(rows)
}

func (r *knowledgeRepository) SearchLexical(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, queryText string, limit int) ([]*models.ScoredKnowledgeItem, error) {
	query := `
		SELECT id, tenant_id, prospect_id, category, title, content, metadata, created_at,
		       ts_rank(search_tsv, websearch_to_tsquery('simple', $3)) AS score
		FROM knowledge_items
		WHERE tenant_id = $1
		  AND (prospect_id IS NULL OR prospect_id = $2)
		  AND search_tsv @@ websearch_to_tsquery('simple', $3)
		ORDER BY score DESC
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, tenantID, prospectID, queryText, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	defer rows.Close()

	return collectScoredItems(rows)
}

func (r *knowledgeRepository) DeleteByTitle(ctx context.Context, tenantID uuid.UUID, title string) (int64, error) {
	// Chunked documents are titled "<source> (part N)", so a source name
	// matches all of its chunks.
	query := `
		DELETE FROM knowledge_items
		WHERE tenant_id = $1 AND (title = $2 OR title LIKE $2 || ' (part %')`

	result, err := r.db.Exec(ctx, query, tenantID, title)
	if err != nil {
		return 0, fmt.Errorf("failed to delete knowledge items: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *knowledgeRepository) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM knowledge_items WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear knowledge base: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *knowledgeRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM knowledge_items WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count knowledge items: %w", err)
	}
	return count, nil
}

func collectScoredItems(rows pgx.Rows) ([]*models.ScoredKnowledgeItem, error) {
	items := make([]*models.ScoredKnowledgeItem, 0)
	for rows.Next() {
		var item models.ScoredKnowledgeItem
		var title *string
		var metadata []byte

		err := rows.Scan(
			&item.ID, &item.TenantID, &item.ProspectID, &item.Category,
			&title, &item.Content, &metadata, &item.CreatedAt, &item.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
		}

		if title != nil {
			item.Title = *title
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal knowledge metadata: %w", err)
			}
		}

		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge items: %w", err)
	}

	return items, nil
}

// vectorLiteral formats an embedding as a pgvector input literal,
// e.g. "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
