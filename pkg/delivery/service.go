package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// Service routes outbound text to the right channel. Direct-channel sends
// complete immediately and persist as SENT; human-like sends persist as
// PENDING rows the Worker picks up.
type Service struct {
	messages       repositories.MessageRepository
	tenants        repositories.TenantRepository
	direct         DirectSender
	operatorChatID int64
	logger         *zap.Logger
}

// NewService creates the delivery Service. direct may be nil when no bot
// credential is configured; operatorChatID is the global fallback for
// hand-off notifications.
func NewService(
	messages repositories.MessageRepository,
	tenants repositories.TenantRepository,
	direct DirectSender,
	operatorChatID int64,
	logger *zap.Logger,
) *Service {
	return &Service{
		messages:       messages,
		tenants:        tenants,
		direct:         direct,
		operatorChatID: operatorChatID,
		logger:         logger.Named("delivery"),
	}
}

// Send delivers text to the prospect through their source channel and
// persists the outbound message row.
func (s *Service) Send(ctx context.Context, prospect *models.Prospect, text string, metadata map[string]any) (*models.Message, error) {
	msg := &models.Message{
		TenantID:   prospect.TenantID,
		ProspectID: prospect.ID,
		Direction:  models.DirectionOutbound,
		Content:    text,
		SenderName: "AI Agent",
		Metadata:   metadata,
	}

	switch prospect.Source {
	case models.SourceHumanlike:
		msg.Status = models.MessageStatusPending

	default:
		if s.direct == nil {
			return nil, fmt.Errorf("no direct channel configured")
		}
		if prospect.ChannelUserID == nil {
			return nil, fmt.Errorf("prospect has no channel identity")
		}

		nativeID, err := s.direct.SendText(*prospect.ChannelUserID, text)
		if err != nil {
			// Persist the failure so operators can see it.
			msg.Status = models.MessageStatusFailed
			if msg.Metadata == nil {
				msg.Metadata = map[string]any{}
			}
			msg.Metadata["failure_reason"] = err.Error()
			if createErr := s.messages.Create(ctx, msg); createErr != nil {
				s.logger.Error("failed to persist failed message", zap.Error(createErr))
			}
			return nil, fmt.Errorf("direct send failed: %w", err)
		}

		msg.Status = models.MessageStatusSent
		msg.ChannelMessageID = &nativeID
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}

	return msg, nil
}

// NotifyOperator pushes a hand-off alert to the tenant's operator chat on
// the direct channel; the global operator chat is the fallback.
func (s *Service) NotifyOperator(ctx context.Context, tenantID uuid.UUID, text string) error {
	if s.direct == nil {
		return fmt.Errorf("no direct channel configured")
	}

	chatID := s.operatorChatID
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant != nil && tenant.OperatorChatID != 0 {
		chatID = tenant.OperatorChatID
	}
	if chatID == 0 {
		// No operator configured anywhere; nothing to do.
		return nil
	}

	if _, err := s.direct.SendText(chatID, text); err != nil {
		return fmt.Errorf("failed to notify operator: %w", err)
	}
	return nil
}
