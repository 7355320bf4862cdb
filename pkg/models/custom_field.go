package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomFieldType constrains what values a tenant-defined field accepts.
type CustomFieldType string

const (
	FieldTypeText    CustomFieldType = "text"
	FieldTypeNumber  CustomFieldType = "number"
	FieldTypeSelect  CustomFieldType = "select"
	FieldTypeBoolean CustomFieldType = "boolean"
)

// IsValid reports whether t is a recognized field type.
func (t CustomFieldType) IsValid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeSelect, FieldTypeBoolean:
		return true
	}
	return false
}

// CustomField is a tenant-defined fact the model is asked to extract during
// qualification. Fields are injected into both the system prompt and the
// structured output schema.
type CustomField struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// Key is the machine name used in the extraction schema.
	Key   string `json:"key"`
	Label string `json:"label"`

	Type CustomFieldType `json:"type"`

	// Options lists the allowed values for select fields.
	Options []string `json:"options,omitempty"`

	Description  string `json:"description,omitempty"`
	DisplayOrder int    `json:"display_order"`

	// IsActive gates prompt injection. Retired fields keep their stored
	// values on prospects but are no longer asked about.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
