package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// Assembler builds the per-tenant system instruction.
type Assembler struct {
	configs repositories.PromptConfigRepository
	fields  repositories.CustomFieldRepository
	logger  *zap.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(
	configs repositories.PromptConfigRepository,
	fields repositories.CustomFieldRepository,
	logger *zap.Logger,
) *Assembler {
	return &Assembler{
		configs: configs,
		fields:  fields,
		logger:  logger.Named("prompt"),
	}
}

// Build assembles the full system prompt for a tenant: active config's base
// instruction (or the built-in default), active custom fields with their
// schema fragment, stage list, the config's hand-off criteria, the fixed
// output directive and, when non-empty, the retrieved knowledge block. The active config is returned alongside so
// callers can reach its welcome text; it is nil when the tenant has none.
func (a *Assembler) Build(ctx context.Context, tenantID uuid.UUID, knowledgeBlock string) (string, *models.PromptConfig, error) {
	cfg, err := a.configs.GetActive(ctx, tenantID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return "", nil, fmt.Errorf("failed to load prompt config: %w", err)
	}

	base := DefaultBasePrompt
	company := ""
	if cfg != nil {
		if strings.TrimSpace(cfg.BasePrompt) != "" {
			base = cfg.BasePrompt
		}
		company = cfg.CompanyInfo
	}
	if company == "" {
		company = "the company"
	}
	base = strings.ReplaceAll(base, CompanyPlaceholder, company)

	fields, err := a.fields.List(ctx, tenantID)
	if err != nil {
		// Missing custom fields degrade the prompt, not the turn.
		a.logger.Warn("failed to load custom fields",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		fields = nil
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n")
	sb.WriteString(stageSection)

	if len(fields) > 0 {
		sb.WriteString("\n")
		sb.WriteString(customFieldsLeadIn)
		sb.WriteString("\n")
		for _, f := range fields {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s", f.Label, f.Key, fieldHint(f)))
			if f.Description != "" {
				sb.WriteString(" — " + f.Description)
			}
			sb.WriteString("\n")
		}
	}

	if cfg != nil && strings.TrimSpace(cfg.HandoffCriteria) != "" {
		sb.WriteString("\n")
		sb.WriteString(handoffLeadIn)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(cfg.HandoffCriteria))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(technicalDirective)

	if len(fields) > 0 {
		sb.WriteString("\nAlso include these keys, null until learned:\n")
		for _, f := range fields {
			sb.WriteString(fmt.Sprintf("  %q: %s\n", f.Key, schemaType(f.Type)))
		}
	}

	if strings.TrimSpace(knowledgeBlock) != "" {
		sb.WriteString("\n")
		sb.WriteString(knowledgeLeadIn)
		sb.WriteString("\n")
		sb.WriteString(knowledgeBlock)
	}

	return sb.String(), cfg, nil
}

// BuildKnowledgeBlock formats retrieval results as a delimited context
// block. Returns "" for no results.
func BuildKnowledgeBlock(items []*models.ScoredKnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		if item.Title != "" {
			sb.WriteString("[" + item.Title + "]\n")
		}
		sb.WriteString(item.Content)
	}
	return sb.String()
}

func fieldHint(f *models.CustomField) string {
	switch f.Type {
	case models.FieldTypeNumber:
		return "ask for a number"
	case models.FieldTypeBoolean:
		return "yes or no"
	case models.FieldTypeSelect:
		return "one of: " + strings.Join(f.Options, ", ")
	default:
		return "free text"
	}
}

func schemaType(t models.CustomFieldType) string {
	switch t {
	case models.FieldTypeBoolean:
		return "<true|false|null>"
	default:
		return "<string or null>"
	}
}
