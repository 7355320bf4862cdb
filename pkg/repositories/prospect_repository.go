package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// ProspectRepository provides data access for prospects. All queries are
// tenant-scoped; a prospect id from another tenant behaves as not found.
type ProspectRepository interface {
	Create(ctx context.Context, prospect *models.Prospect) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Prospect, error)
	GetByChannelUser(ctx context.Context, tenantID uuid.UUID, channelUserID int64) (*models.Prospect, error)
	Update(ctx context.Context, prospect *models.Prospect) error
	TouchLastMessage(ctx context.Context, tenantID, id uuid.UUID, at time.Time, incrementUnread bool) error
	MarkRead(ctx context.Context, tenantID, id uuid.UUID) error
	RecordFollowUp(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	// ResetFollowUps zeroes the follow-up counter; called on every inbound
	// turn so re-engagement restarts once the prospect replies.
	ResetFollowUps(ctx context.Context, tenantID, id uuid.UUID) error
	ListFollowUpCandidates(ctx context.Context, tenantID uuid.UUID, maxAttempts int) ([]*models.Prospect, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, stage *models.Stage) ([]*models.Prospect, error)
}

type prospectRepository struct {
	db *database.DB
}

// NewProspectRepository creates a new ProspectRepository.
func NewProspectRepository(db *database.DB) ProspectRepository {
	return &prospectRepository{db: db}
}

var _ ProspectRepository = (*prospectRepository)(nil)

const prospectColumns = `
	id, tenant_id, channel_user_id, username, full_name, phone, source,
	stage, qualification, readiness, extracted_facts,
	last_message_at, unread_count, followup_count, last_followup_at,
	created_at, updated_at`

func (r *prospectRepository) Create(ctx context.Context, prospect *models.Prospect) error {
	if prospect.ID == uuid.Nil {
		prospect.ID = uuid.New()
	}
	if prospect.Stage == "" {
		prospect.Stage = models.StageNew
	}
	if prospect.Qualification == "" {
		prospect.Qualification = models.QualificationInProgress
	}

	query := `
		INSERT INTO prospects (
			id, tenant_id, channel_user_id, username, full_name, phone, source,
			stage, qualification, readiness, extracted_facts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		prospect.ID, prospect.TenantID, prospect.ChannelUserID, prospect.Username,
		prospect.FullName, prospect.Phone, prospect.Source,
		prospect.Stage, prospect.Qualification, prospect.Readiness, prospect.ExtractedFacts,
	).Scan(&prospect.CreatedAt, &prospect.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prospect: %w", err)
	}

	return nil
}

func (r *prospectRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE tenant_id = $1 AND id = $2`

	p, err := scanProspect(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *prospectRepository) GetByChannelUser(ctx context.Context, tenantID uuid.UUID, channelUserID int64) (*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE tenant_id = $1 AND channel_user_id = $2`

	p, err := scanProspect(r.db.QueryRow(ctx, query, tenantID, channelUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *prospectRepository) Update(ctx context.Context, prospect *models.Prospect) error {
	query := `
		UPDATE prospects SET
			channel_user_id = $3, username = $4, full_name = $5, phone = $6,
			stage = $7, qualification = $8, readiness = $9, extracted_facts = $10,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		prospect.TenantID, prospect.ID,
		prospect.ChannelUserID, prospect.Username, prospect.FullName, prospect.Phone,
		prospect.Stage, prospect.Qualification, prospect.Readiness, prospect.ExtractedFacts,
	).Scan(&prospect.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update prospect: %w", err)
	}

	return nil
}

func (r *prospectRepository) TouchLastMessage(ctx context.Context, tenantID, id uuid.UUID, at time.Time, incrementUnread bool) error {
	query := `
		UPDATE prospects SET
			last_message_at = $3,
			unread_count = unread_count + $4,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	inc := 0
	if incrementUnread {
		inc = 1
	}
	result, err := r.db.Exec(ctx, query, tenantID, id, at, inc)
	if err != nil {
		return fmt.Errorf("failed to touch prospect: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *prospectRepository) MarkRead(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `UPDATE prospects SET unread_count = 0, updated_at = now() WHERE tenant_id = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to mark prospect read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *prospectRepository) RecordFollowUp(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE prospects SET
			followup_count = followup_count + 1,
			last_followup_at = $3,
			stage = $4,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, tenantID, id, at, models.StageFollowUp)
	if err != nil {
		return fmt.Errorf("failed to record follow-up: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *prospectRepository) ResetFollowUps(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `UPDATE prospects SET followup_count = 0, updated_at = now() WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.Exec(ctx, query, tenantID, id); err != nil {
		return fmt.Errorf("failed to reset follow-ups: %w", err)
	}
	return nil
}

// ListFollowUpCandidates returns prospects in re-engageable stages that have
// not exhausted their follow-up attempts. Timing and last-direction checks
// happen in the scheduler, which has the per-attempt thresholds.
func (r *prospectRepository) ListFollowUpCandidates(ctx context.Context, tenantID uuid.UUID, maxAttempts int) ([]*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + `
		FROM prospects
		WHERE tenant_id = $1
		  AND stage = ANY($2)
		  AND followup_count < $3
		  AND last_message_at IS NOT NULL
		ORDER BY last_message_at`

	stages := []string{string(models.StageNew), string(models.StageConsulting), string(models.StageFollowUp)}
	rows, err := r.db.Query(ctx, query, tenantID, stages, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list follow-up candidates: %w", err)
	}
	defer rows.Close()

	return collectProspects(rows)
}

func (r *prospectRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, stage *models.Stage) ([]*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + `
		FROM prospects
		WHERE tenant_id = $1 AND ($2::text IS NULL OR stage = $2)
		ORDER BY last_message_at DESC NULLS LAST`

	rows, err := r.db.Query(ctx, query, tenantID, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to list prospects: %w", err)
	}
	defer rows.Close()

	return collectProspects(rows)
}

func collectProspects(rows pgx.Rows) ([]*models.Prospect, error) {
	prospects := make([]*models.Prospect, 0)
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prospects: %w", err)
	}
	return prospects, nil
}

func scanProspect(row pgx.Row) (*models.Prospect, error) {
	var p models.Prospect
	var fullName, phone, facts *string

	err := row.Scan(
		&p.ID, &p.TenantID, &p.ChannelUserID, &p.Username, &fullName, &phone, &p.Source,
		&p.Stage, &p.Qualification, &p.Readiness, &facts,
		&p.LastMessageAt, &p.UnreadCount, &p.FollowUpCount, &p.LastFollowUpAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prospect: %w", err)
	}

	if fullName != nil {
		p.FullName = *fullName
	}
	if phone != nil {
		p.Phone = *phone
	}
	if facts != nil {
		p.ExtractedFacts = *facts
	}

	return &p, nil
}
