package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/channel"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// workerBatchSize bounds one polling pass.
const workerBatchSize = 50

// SessionSource hands the worker a tenant's live channel connection.
type SessionSource interface {
	Client(tenantID uuid.UUID) (channel.Client, error)
}

// Worker drains PENDING outbound rows for human-like prospects. Each row is
// resolved exactly once to SENT or FAILED; failures are terminal so a
// permanent provider error cannot loop forever.
type Worker struct {
	messages  repositories.MessageRepository
	prospects repositories.ProspectRepository
	sessions  SessionSource
	every     time.Duration
	logger    *zap.Logger
}

// NewWorker creates the queued-delivery Worker.
func NewWorker(
	messages repositories.MessageRepository,
	prospects repositories.ProspectRepository,
	sessions SessionSource,
	every time.Duration,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		messages:  messages,
		prospects: prospects,
		sessions:  sessions,
		every:     every,
		logger:    logger.Named("delivery.worker"),
	}
}

// Run polls for pending rows until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending runs one polling pass.
func (w *Worker) ProcessPending(ctx context.Context) {
	pending, err := w.messages.ListPendingOutbound(ctx, workerBatchSize)
	if err != nil {
		w.logger.Error("failed to list pending messages", zap.Error(err))
		return
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, msg)
	}
}

func (w *Worker) deliver(ctx context.Context, msg *models.Message) {
	logger := w.logger.With(
		zap.String("message_id", msg.ID.String()),
		zap.String("tenant_id", msg.TenantID.String()))

	prospect, err := w.prospects.GetByID(ctx, msg.TenantID, msg.ProspectID)
	if err != nil {
		logger.Error("failed to load prospect for pending message", zap.Error(err))
		w.fail(ctx, msg, "prospect not found", logger)
		return
	}
	if prospect.ChannelUserID == nil {
		w.fail(ctx, msg, "prospect has no channel identity", logger)
		return
	}

	client, err := w.sessions.Client(msg.TenantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotActive) {
			// The session may come back via reconcile; leave the row
			// pending rather than burning it.
			logger.Debug("no live session, deferring delivery")
			return
		}
		logger.Error("failed to get channel client", zap.Error(err))
		return
	}

	nativeID, err := w.sendResolved(ctx, client, prospect, msg.Content, logger)
	if err != nil {
		logger.Error("delivery failed", zap.Error(err))
		w.fail(ctx, msg, err.Error(), logger)
		return
	}

	if err := w.messages.MarkSent(ctx, msg.ID, &nativeID); err != nil {
		logger.Error("failed to mark message sent", zap.Error(err))
		return
	}

	logger.Info("message delivered", zap.Int64("channel_message_id", nativeID))
}

// sendResolved resolves the prospect's channel identity and sends. The
// resolution ladder: cached lookup, forced refresh, stored username. When
// every rung fails the raw send is still attempted.
func (w *Worker) sendResolved(ctx context.Context, client channel.Client, prospect *models.Prospect, text string, logger *zap.Logger) (int64, error) {
	userID := *prospect.ChannelUserID

	if _, err := client.ResolveUser(ctx, userID, false); err == nil {
		return client.SendText(ctx, userID, text)
	}

	if _, err := client.ResolveUser(ctx, userID, true); err == nil {
		return client.SendText(ctx, userID, text)
	}

	if prospect.Username != nil && *prospect.Username != "" {
		if nativeID, err := client.SendTextToUsername(ctx, *prospect.Username, text); err == nil {
			return nativeID, nil
		}
	}

	logger.Warn("identity resolution exhausted, attempting raw send",
		zap.Int64("channel_user_id", userID))
	return client.SendText(ctx, userID, text)
}

func (w *Worker) fail(ctx context.Context, msg *models.Message, reason string, logger *zap.Logger) {
	if err := w.messages.MarkFailed(ctx, msg.ID, reason); err != nil {
		logger.Error("failed to mark message failed", zap.Error(err))
	}
}
