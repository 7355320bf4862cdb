package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction marks who authored a message.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// MessageStatus tracks delivery of outbound messages. Inbound messages and
// directly delivered outbound messages are recorded as SENT.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "PENDING"
	MessageStatusSent    MessageStatus = "SENT"
	MessageStatusFailed  MessageStatus = "FAILED"
)

// Message is a single turn of a prospect conversation. Outbound messages on
// the human-like channel are inserted as PENDING and picked up by the
// delivery worker; the status is flipped exactly once to SENT or FAILED.
type Message struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ProspectID uuid.UUID `json:"prospect_id"`

	Direction Direction     `json:"direction"`
	Status    MessageStatus `json:"status"`
	Content   string        `json:"content"`

	// MediaURL points at voice or photo attachments when present.
	MediaURL *string `json:"media_url,omitempty"`

	// ChannelMessageID is the native message id assigned by the channel,
	// set after successful delivery (or on intake for inbound messages).
	ChannelMessageID *int64 `json:"channel_message_id,omitempty"`

	SenderName string `json:"sender_name,omitempty"`
	IsRead     bool   `json:"is_read"`

	// Metadata carries per-message annotations such as token usage,
	// transcription flags and the knowledge block used for the reply.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
