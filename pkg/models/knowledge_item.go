package models

import (
	"time"

	"github.com/google/uuid"
)

// Knowledge categories. Free-form strings are allowed; these are the ones
// the system writes itself.
const (
	KnowledgeCategoryGeneral      = "general"
	KnowledgeCategoryConversation = "conversation"
)

// KnowledgeItem is one embedded chunk of tenant knowledge. Items with a
// ProspectID are conversation memory visible only when retrieving for that
// prospect; items without one are shared tenant knowledge.
type KnowledgeItem struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// ProspectID scopes conversation-derived items to a single prospect.
	ProspectID *uuid.UUID `json:"prospect_id,omitempty"`

	Category string `json:"category"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`

	// Embedding is the vector for semantic search. Not serialized; it is
	// loaded only by the search queries that need it.
	Embedding []float32 `json:"-"`

	// Metadata carries source attribution such as file name and page.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ScoredKnowledgeItem is a retrieval result with its fused relevance score.
type ScoredKnowledgeItem struct {
	KnowledgeItem
	Score float64 `json:"score"`
}
