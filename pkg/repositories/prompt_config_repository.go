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

// PromptConfigRepository provides data access for tenant prompt configs.
type PromptConfigRepository interface {
	// Create inserts a config; an active one deactivates the tenant's
	// previous active config in the same transaction.
	Create(ctx context.Context, cfg *models.PromptConfig) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.PromptConfig, error)
	// GetActive returns the tenant's active config, or ErrNotFound.
	GetActive(ctx context.Context, tenantID uuid.UUID) (*models.PromptConfig, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.PromptConfig, error)
	Update(ctx context.Context, cfg *models.PromptConfig) error
	// Activate makes one config active and deactivates the tenant's others
	// in the same transaction.
	Activate(ctx context.Context, tenantID, id uuid.UUID) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

type promptConfigRepository struct {
	db *database.DB
}

// NewPromptConfigRepository creates a new PromptConfigRepository.
func NewPromptConfigRepository(db *database.DB) PromptConfigRepository {
	return &promptConfigRepository{db: db}
}

var _ PromptConfigRepository = (*promptConfigRepository)(nil)

const promptConfigColumns = `
	id, tenant_id, name, base_prompt, company_info, welcome_message,
	handoff_criteria, is_active, created_at, updated_at`

func (r *promptConfigRepository) Create(ctx context.Context, cfg *models.PromptConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if cfg.IsActive {
		if _, err := tx.Exec(ctx,
			`UPDATE prompt_configs SET is_active = false, updated_at = now() WHERE tenant_id = $1 AND is_active = true`,
			cfg.TenantID,
		); err != nil {
			return fmt.Errorf("failed to deactivate prompt configs: %w", err)
		}
	}

	query := `
		INSERT INTO prompt_configs (
			id, tenant_id, name, base_prompt, company_info, welcome_message,
			handoff_criteria, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		cfg.ID, cfg.TenantID, cfg.Name, cfg.BasePrompt, cfg.CompanyInfo,
		cfg.WelcomeMessage, cfg.HandoffCriteria, cfg.IsActive,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prompt config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit prompt config: %w", err)
	}

	return nil
}

func (r *promptConfigRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.PromptConfig, error) {
	query := `SELECT ` + promptConfigColumns + ` FROM prompt_configs WHERE tenant_id = $1 AND id = $2`

	cfg, err := scanPromptConfig(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *promptConfigRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (*models.PromptConfig, error) {
	query := `SELECT ` + promptConfigColumns + ` FROM prompt_configs WHERE tenant_id = $1 AND is_active = true`

	cfg, err := scanPromptConfig(r.db.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *promptConfigRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.PromptConfig, error) {
	query := `SELECT ` + promptConfigColumns + ` FROM prompt_configs WHERE tenant_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.PromptConfig, 0)
	for rows.Next() {
		cfg, err := scanPromptConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt configs: %w", err)
	}

	return configs, nil
}

func (r *promptConfigRepository) Update(ctx context.Context, cfg *models.PromptConfig) error {
	query := `
		UPDATE prompt_configs SET
			name = $3, base_prompt = $4, company_info = $5, welcome_message = $6,
			handoff_criteria = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		cfg.TenantID, cfg.ID, cfg.Name, cfg.BasePrompt, cfg.CompanyInfo,
		cfg.WelcomeMessage, cfg.HandoffCriteria,
	).Scan(&cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update prompt config: %w", err)
	}

	return nil
}

func (r *promptConfigRepository) Activate(ctx context.Context, tenantID, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_configs SET is_active = false, updated_at = now() WHERE tenant_id = $1 AND is_active = true`,
		tenantID,
	); err != nil {
		return fmt.Errorf("failed to deactivate prompt configs: %w", err)
	}

	result, err := tx.Exec(ctx,
		`UPDATE prompt_configs SET is_active = true, updated_at = now() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to activate prompt config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	return nil
}

func (r *promptConfigRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM prompt_configs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete prompt config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanPromptConfig(row pgx.Row) (*models.PromptConfig, error) {
	var cfg models.PromptConfig
	var companyInfo, welcome, handoff *string

	err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.BasePrompt, &companyInfo,
		&welcome, &handoff, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prompt config: %w", err)
	}

	if companyInfo != nil {
		cfg.CompanyInfo = *companyInfo
	}
	if welcome != nil {
		cfg.WelcomeMessage = *welcome
	}
	if handoff != nil {
		cfg.HandoffCriteria = *handoff
	}

	return &cfg, nil
}
