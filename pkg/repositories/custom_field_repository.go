package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// CustomFieldRepository provides data access for tenant-defined
// qualification fields.
type CustomFieldRepository interface {
	Create(ctx context.Context, field *models.CustomField) error
	// List returns the tenant's active fields ordered for prompt
	// injection. Retired fields are excluded; flip is_active via Update
	// to bring one back.
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.CustomField, error)
	Update(ctx context.Context, field *models.CustomField) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

type customFieldRepository struct {
	db *database.DB
}

// NewCustomFieldRepository creates a new CustomFieldRepository.
func NewCustomFieldRepository(db *database.DB) CustomFieldRepository {
	return &customFieldRepository{db: db}
}

var _ CustomFieldRepository = (*customFieldRepository)(nil)

func (r *customFieldRepository) Create(ctx context.Context, field *models.CustomField) error {
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	if !field.Type.IsValid() {
		return fmt.Errorf("invalid custom field type %q", field.Type)
	}

	query := `
		INSERT INTO custom_fields (
			id, tenant_id, key, label, type, options, description, display_order, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		field.ID, field.TenantID, field.Key, field.Label, field.Type,
		field.Options, field.Description, field.DisplayOrder, field.IsActive,
	).Scan(&field.CreatedAt, &field.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create custom field: %w", err)
	}

	return nil
}

func (r *customFieldRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.CustomField, error) {
	query := `
		SELECT id, tenant_id, key, label, type, options, description, display_order, is_active, created_at, updated_at
		FROM custom_fields
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY display_order, key`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	defer rows.Close()

	fields := make([]*models.CustomField, 0)
	for rows.Next() {
		var f models.CustomField
		var description *string

		err := rows.Scan(
			&f.ID, &f.TenantID, &f.Key, &f.Label, &f.Type, &f.Options,
			&description, &f.DisplayOrder, &f.IsActive, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom field: %w", err)
		}
		if description != nil {
			f.Description = *description
		}

		fields = append(fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating custom fields: %w", err)
	}

	return fields, nil
}

func (r *customFieldRepository) Update(ctx context.Context, field *models.CustomField) error {
	if !field.Type.IsValid() {
		return fmt.Errorf("invalid custom field type %q", field.Type)
	}

	query := `
		UPDATE custom_fields SET
			key = $3, label = $4, type = $5, options = $6, description = $7,
			display_order = $8, is_active = $9, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query,
		field.TenantID, field.ID, field.Key, field.Label, field.Type,
		field.Options, field.Description, field.DisplayOrder, field.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update custom field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *customFieldRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM custom_fields WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete custom field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
