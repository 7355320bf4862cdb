package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// ChannelSessionRepository provides data access for per-tenant human-like
// channel sessions. Each tenant has at most one row.
type ChannelSessionRepository interface {
	Upsert(ctx context.Context, session *models.ChannelSession) error
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.ChannelSession, error)
	// ListConnectable returns all authorized, active sessions across
	// tenants for the reconcile loop.
	ListConnectable(ctx context.Context) ([]*models.ChannelSession, error)
	SetStatus(ctx context.Context, tenantID uuid.UUID, status models.SessionStatus, lastError *string) error
	// SetAuthorized stores the session token and marks the session
	// connected and active.
	SetAuthorized(ctx context.Context, tenantID uuid.UUID, sessionToken string) error
	SetActive(ctx context.Context, tenantID uuid.UUID, active bool) error
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

type channelSessionRepository struct {
	db *database.DB
}

// NewChannelSessionRepository creates a new ChannelSessionRepository.
func NewChannelSessionRepository(db *database.DB) ChannelSessionRepository {
	return &channelSessionRepository{db: db}
}

var _ ChannelSessionRepository = (*channelSessionRepository)(nil)

const channelSessionColumns = `
	id, tenant_id, phone, api_id, api_hash, session_token,
	authorized, is_active, status, last_error, created_at, updated_at`

func (r *channelSessionRepository) Upsert(ctx context.Context, session *models.ChannelSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusNew
	}

	query := `
		INSERT INTO channel_sessions (
			id, tenant_id, phone, api_id, api_hash, session_token,
			authorized, is_active, status, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id)
		DO UPDATE SET
			phone = EXCLUDED.phone,
			api_id = EXCLUDED.api_id,
			api_hash = EXCLUDED.api_hash,
			session_token = EXCLUDED.session_token,
			authorized = EXCLUDED.authorized,
			is_active = EXCLUDED.is_active,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		session.ID, session.TenantID, session.Phone, session.APIID, session.APIHash,
		session.SessionToken, session.Authorized, session.IsActive, session.Status,
		session.LastError,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert channel session: %w", err)
	}

	return nil
}

func (r *channelSessionRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.ChannelSession, error) {
	query := `SELECT ` + channelSessionColumns + ` FROM channel_sessions WHERE tenant_id = $1`

	s, err := scanChannelSession(r.db.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *channelSessionRepository) ListConnectable(ctx context.Context) ([]*models.ChannelSession, error) {
	query := `SELECT ` + channelSessionColumns + `
		FROM channel_sessions
		WHERE authorized = true AND is_active = true
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.ChannelSession, 0)
	for rows.Next() {
		s, err := scanChannelSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel sessions: %w", err)
	}

	return sessions, nil
}

func (r *channelSessionRepository) SetStatus(ctx context.Context, tenantID uuid.UUID, status models.SessionStatus, lastError *string) error {
	query := `
		UPDATE channel_sessions SET status = $2, last_error = $3, updated_at = now()
		WHERE tenant_id = $1`

	result, err := r.db.Exec(ctx, query, tenantID, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *channelSessionRepository) SetAuthorized(ctx context.Context, tenantID uuid.UUID, sessionToken string) error {
	query := `
		UPDATE channel_sessions SET
			session_token = $2,
			authorized = true,
			is_active = true,
			status = $3,
			last_error = NULL,
			updated_at = now()
		WHERE tenant_id = $1`

	result, err := r.db.Exec(ctx, query, tenantID, sessionToken, models.SessionStatusConnected)
	if err != nil {
		return fmt.Errorf("failed to authorize session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *channelSessionRepository) SetActive(ctx context.Context, tenantID uuid.UUID, active bool) error {
	query := `UPDATE channel_sessions SET is_active = $2, updated_at = now() WHERE tenant_id = $1`

	result, err := r.db.Exec(ctx, query, tenantID, active)
	if err != nil {
		return fmt.Errorf("failed to set session active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *channelSessionRepository) Delete(ctx context.Context, tenantID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM channel_sessions WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete channel session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanChannelSession(row pgx.Row) (*models.ChannelSession, error) {
	var s models.ChannelSession
	var token *string

	err := row.Scan(
		&s.ID, &s.TenantID, &s.Phone, &s.APIID, &s.APIHash, &token,
		&s.Authorized, &s.IsActive, &s.Status, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan channel session: %w", err)
	}

	if token != nil {
		s.SessionToken = *token
	}

	return &s, nil
}
