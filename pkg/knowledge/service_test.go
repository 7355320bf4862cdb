package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/llm"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

type mockKnowledgeRepo struct {
	created     []*models.KnowledgeItem
	vectorHits  []*models.ScoredKnowledgeItem
	lexicalHits []*models.ScoredKnowledgeItem
	lexicalErr  error
}

var _ repositories.KnowledgeRepository = (*mockKnowledgeRepo)(nil)

func (m *mockKnowledgeRepo) Create(_ context.Context, item *models.KnowledgeItem) error {
	m.created = append(m.created, item)
	return nil
}

func (m *mockKnowledgeRepo) CreateBatch(_ context.Context, items []*models.KnowledgeItem) error {
	m.created = append(m.created, items...)
	return nil
}

func (m *mockKnowledgeRepo) SearchVector(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ []float32, _ int) ([]*models.ScoredKnowledgeItem, error) {
	return m.vectorHits, nil
}

func (m *mockKnowledgeRepo) SearchLexical(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ string, _ int) ([]*models.ScoredKnowledgeItem, error) {
	if m.lexicalErr != nil {
		return nil, m.lexicalErr
	}
	return m.lexicalHits, nil
}

func (m *mockKnowledgeRepo) DeleteByTitle(_ context.Context, _ uuid.UUID, _ string) (int64, error) {
	return 0, nil
}

func (m *mockKnowledgeRepo) DeleteByTenant(_ context.Context, _ uuid.UUID) (int64, error) {
	return int64(len(m.created)), nil
}

func (m *mockKnowledgeRepo) CountByTenant(_ context.Context, _ uuid.UUID) (int64, error) {
	return int64(len(m.created)), nil
}

func newTestService(repo *mockKnowledgeRepo, client llm.Client) *Service {
	cfg := &config.KnowledgeConfig{ChunkSize: 1200, ChunkOverlap: 200, SearchLimit: 3}
	return NewService(repo, client, cfg, 8, zap.NewNop())
}

func scored(id uuid.UUID) *models.ScoredKnowledgeItem {
	return &models.ScoredKnowledgeItem{KnowledgeItem: models.KnowledgeItem{ID: id}}
}

func TestFuseRRFBothListsBeatSingleList(t *testing.T) {
	both := scored(uuid.New())
	only := scored(uuid.New())

	// "both" is first in two lists, "only" first in one. 2/61 > 1/61.
	fused := FuseRRF(
		[]*models.ScoredKnowledgeItem{both},
		[]*models.ScoredKnowledgeItem{{KnowledgeItem: both.KnowledgeItem}, only},
	)

	if len(fused) != 2 {
		t.Fatalf("expected 2 fused items, got %d", len(fused))
	}
	if fused[0].ID != both.ID {
		t.Error("item present in both lists must rank first")
	}
	if fused[0].Score <= fused[1].Score {
		t.Errorf("fused scores not descending: %f <= %f", fused[0].Score, fused[1].Score)
	}
}

func TestFuseRRFScoreValues(t *testing.T) {
	a := scored(uuid.New())

	fused := FuseRRF([]*models.ScoredKnowledgeItem{a})
	want := 1.0 / 61.0
	if fused[0].Score != want {
		t.Errorf("rank-0 single-list score = %f, want %f", fused[0].Score, want)
	}
}

func TestSearchFallsBackWhenLexicalFails(t *testing.T) {
	hit := scored(uuid.New())
	repo := &mockKnowledgeRepo{
		vectorHits: []*models.ScoredKnowledgeItem{hit},
		lexicalErr: errors.New("syntax error in tsquery"),
	}
	svc := newTestService(repo, &llm.MockClient{})

	results, err := svc.Search(context.Background(), uuid.New(), nil, "broken \"query", 3)
	if err != nil {
		t.Fatalf("search must not fail on lexical error: %v", err)
	}
	if len(results) != 1 || results[0].ID != hit.ID {
		t.Errorf("expected vector-only results, got %v", results)
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	repo := &mockKnowledgeRepo{}
	for i := 0; i < 10; i++ {
		repo.vectorHits = append(repo.vectorHits, scored(uuid.New()))
	}
	svc := newTestService(repo, &llm.MockClient{})

	results, err := svc.Search(context.Background(), uuid.New(), nil, "query", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("len = %d, want 3", len(results))
	}
}

func TestIngestStoresNormalizedEmbeddings(t *testing.T) {
	repo := &mockKnowledgeRepo{}
	client := &llm.MockClient{
		EmbedBatchFunc: func(_ context.Context, inputs []string) ([][]float32, error) {
			out := make([][]float32, len(inputs))
			for i := range inputs {
				// Provider returns more dimensions than the target.
				out[i] = make([]float32, 12)
			}
			return out, nil
		},
	}
	svc := newTestService(repo, client)

	count, err := svc.Ingest(context.Background(), uuid.New(), []byte("This is a document well over the minimum chunk length for ingestion."), "pricing.txt", "general")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("chunk count = %d, want 1", count)
	}
	if got := len(repo.created[0].Embedding); got != 8 {
		t.Errorf("stored embedding dimension = %d, want 8", got)
	}
	if repo.created[0].Title != "pricing.txt (part 1)" {
		t.Errorf("title = %q", repo.created[0].Title)
	}
}

func TestIngestShortProviderVectorIsPadded(t *testing.T) {
	repo := &mockKnowledgeRepo{}
	client := &llm.MockClient{
		EmbedBatchFunc: func(_ context.Context, inputs []string) ([][]float32, error) {
			out := make([][]float32, len(inputs))
			for i := range inputs {
				out[i] = []float32{1, 2, 3}
			}
			return out, nil
		},
	}
	svc := newTestService(repo, client)

	_, err := svc.Ingest(context.Background(), uuid.New(), []byte("Another document with plenty of characters to survive chunk filtering."), "doc.txt", "general")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(repo.created[0].Embedding); got != 8 {
		t.Errorf("stored embedding dimension = %d, want 8", got)
	}
}
