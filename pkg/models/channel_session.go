package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus describes the lifecycle of a tenant's human-like channel
// session.
type SessionStatus string

const (
	SessionStatusNew          SessionStatus = "new"
	SessionStatusCodeSent     SessionStatus = "code_sent"
	SessionStatusPasswordWait SessionStatus = "password_required"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusError        SessionStatus = "error"
)

// ChannelSession holds one tenant's authorized human-like channel account.
// A tenant has at most one session row.
type ChannelSession struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	Phone string `json:"phone"`

	APIID   int    `json:"api_id"`
	APIHash string `json:"-"`

	// SessionToken is the opaque authorized session blob issued by the
	// gateway after login completes. Never serialized.
	SessionToken string `json:"-"`

	Authorized bool          `json:"authorized"`
	IsActive   bool          `json:"is_active"`
	Status     SessionStatus `json:"status"`

	LastError *string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connectable reports whether the session should have a live connection:
// the account is authorized and the tenant has not paused it.
func (s *ChannelSession) Connectable() bool {
	return s.Authorized && s.IsActive
}
