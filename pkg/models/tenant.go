package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one workspace. All prospects, messages, knowledge and sessions
// belong to exactly one tenant.
type Tenant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// OperatorChatID is where handoff notifications for this tenant go on
	// the direct channel. Zero means the global operator chat is used.
	OperatorChatID int64 `json:"operator_chat_id,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
