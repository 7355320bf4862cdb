package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptConfig is a versioned system prompt for a tenant. At most one config
// per tenant is active at a time; activating one deactivates the others.
type PromptConfig struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	Name string `json:"name"`

	// BasePrompt may contain the {company_info} placeholder, replaced at
	// assembly time with the tenant's company description.
	BasePrompt  string `json:"base_prompt"`
	CompanyInfo string `json:"company_info,omitempty"`

	// WelcomeMessage, when set, is sent verbatim to first-contact prospects
	// instead of a generated reply.
	WelcomeMessage string `json:"welcome_message,omitempty"`

	// HandoffCriteria describes, in the tenant's own words, when the
	// conversation should be passed to a human manager. Woven into the
	// assembled instruction when set.
	HandoffCriteria string `json:"handoff_criteria,omitempty"`

	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
