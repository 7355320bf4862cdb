package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// MessageRepository provides data access for conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Message, error)
	// ListRecent returns the newest messages for a prospect in
	// chronological order (oldest first), up to limit.
	ListRecent(ctx context.Context, tenantID, prospectID uuid.UUID, limit int) ([]*models.Message, error)
	// Last returns the most recent message for a prospect, or ErrNotFound.
	Last(ctx context.Context, tenantID, prospectID uuid.UUID) (*models.Message, error)
	// ListPendingOutbound returns queued outbound messages across all
	// tenants, oldest first, for the delivery worker.
	ListPendingOutbound(ctx context.Context, limit int) ([]*models.Message, error)
	MarkSent(ctx context.Context, id uuid.UUID, channelMessageID *int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type messageRepository struct {
	db *database.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *database.DB) MessageRepository {
	return &messageRepository{db: db}
}

var _ MessageRepository = (*messageRepository)(nil)

const messageColumns = `
	id, tenant_id, prospect_id, direction, status, content, media_url,
	channel_message_id, sender_name, is_read, metadata, created_at`

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusSent
	}

	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}
	}

	query := `
		INSERT INTO messages (
			id, tenant_id, prospect_id, direction, status, content, media_url,
			channel_message_id, sender_name, is_read, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		msg.ID, msg.TenantID, msg.ProspectID, msg.Direction, msg.Status,
		msg.Content, msg.MediaURL, msg.ChannelMessageID, msg.SenderName,
		msg.IsRead, metadata,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND id = $2`

	m, err := scanMessage(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *messageRepository) ListRecent(ctx context.Context, tenantID, prospectID uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE tenant_id = $1 AND prospect_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		) recent ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, tenantID, prospectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *messageRepository) Last(ctx context.Context, tenantID, prospectID uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE tenant_id = $1 AND prospect_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	m, err := scanMessage(r.db.QueryRow(ctx, query, tenantID, prospectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *messageRepository) ListPendingOutbound(ctx context.Context, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE direction = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, models.DirectionOutbound, models.MessageStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// MarkSent flips a pending message to SENT. The status guard makes the
// transition idempotent if two workers ever race on the same row.
func (r *messageRepository) MarkSent(ctx context.Context, id uuid.UUID, channelMessageID *int64) error {
	query := `
		UPDATE messages SET status = $2, channel_message_id = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(ctx, query, id, models.MessageStatusSent, channelMessageID, models.MessageStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *messageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE messages SET
			status = $2,
			metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object('failure_reason', $3::text)
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(ctx, query, id, models.MessageStatusFailed, reason, models.MessageStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var senderName *string
	var metadata []byte

	err := row.Scan(
		&m.ID, &m.TenantID, &m.ProspectID, &m.Direction, &m.Status,
		&m.Content, &m.MediaURL, &m.ChannelMessageID, &senderName,
		&m.IsRead, &metadata, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if senderName != nil {
		m.SenderName = *senderName
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}

	return &m, nil
}
