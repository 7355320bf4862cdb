// Package followup re-engages prospects that went quiet, nudging them a
// bounded number of times with escalating waits between attempts.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/conversation"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// Generator produces the re-engagement text for one prospect.
type Generator interface {
	GenerateFollowUp(ctx context.Context, prospect *models.Prospect) (string, error)
}

// Scheduler periodically scans every active tenant for prospects whose
// conversation stalled after an outbound message and sends them a follow-up.
type Scheduler struct {
	tenants   repositories.TenantRepository
	prospects repositories.ProspectRepository
	messages  repositories.MessageRepository
	generator Generator
	deliverer conversation.Deliverer
	cfg       *config.FollowUpConfig
	cron      *cron.Cron
	logger    *zap.Logger

	now func() time.Time
}

// NewScheduler creates the follow-up Scheduler.
func NewScheduler(
	tenants repositories.TenantRepository,
	prospects repositories.ProspectRepository,
	messages repositories.MessageRepository,
	generator Generator,
	deliverer conversation.Deliverer,
	cfg *config.FollowUpConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		tenants:   tenants,
		prospects: prospects,
		messages:  messages,
		generator: generator,
		deliverer: deliverer,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    logger.Named("followup"),
		now:       time.Now,
	}
}

// Start schedules the periodic scan. The first pass waits out the startup
// delay so a restarting process does not immediately blast the channel.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.CheckEvery)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule follow-up scan: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartupDelay):
		}
		s.RunOnce(ctx)
		s.cron.Start()
	}()

	return nil
}

// Stop halts the periodic scan and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce scans all active tenants and sends every due follow-up.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants", zap.Error(err))
		return
	}

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return
		}
		s.runTenant(ctx, tenant)
	}
}

func (s *Scheduler) runTenant(ctx context.Context, tenant *models.Tenant) {
	logger := s.logger.With(zap.String("tenant_id", tenant.ID.String()))

	candidates, err := s.prospects.ListFollowUpCandidates(ctx, tenant.ID, s.cfg.MaxAttempts)
	if err != nil {
		logger.Error("failed to list follow-up candidates", zap.Error(err))
		return
	}

	sent := 0
	for _, prospect := range candidates {
		if ctx.Err() != nil {
			return
		}

		due, err := s.isDue(ctx, prospect)
		if err != nil {
			logger.Error("failed to evaluate prospect",
				zap.String("prospect_id", prospect.ID.String()), zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		if sent > 0 {
			// Pace successive sends so the channel does not flag us.
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.SendPacing):
			}
		}

		if err := s.send(ctx, prospect); err != nil {
			logger.Error("failed to follow up",
				zap.String("prospect_id", prospect.ID.String()), zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 {
		logger.Info("follow-up pass complete", zap.Int("sent", sent))
	}
}

// isDue applies the timing and conversation-state rules on top of the
// repository's candidate filter. A follow-up only fires when the last word
// in the thread was ours and the attempt's waiting period has elapsed.
func (s *Scheduler) isDue(ctx context.Context, prospect *models.Prospect) (bool, error) {
	if prospect.ChannelUserID == nil {
		return false, nil
	}
	if !prospect.EligibleForFollowUp() || prospect.FollowUpCount >= s.cfg.MaxAttempts {
		return false, nil
	}

	threshold, ok := s.cfg.AttemptThreshold(prospect.FollowUpCount)
	if !ok {
		return false, nil
	}

	// First attempt counts from the prospect's last activity, later ones
	// from the previous follow-up.
	ref := prospect.LastMessageAt
	if prospect.FollowUpCount > 0 {
		ref = prospect.LastFollowUpAt
	}
	if ref == nil {
		return false, nil
	}
	if s.now().Sub(*ref) < threshold {
		return false, nil
	}

	last, err := s.messages.Last(ctx, prospect.TenantID, prospect.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load last message: %w", err)
	}
	return last.Direction == models.DirectionOutbound, nil
}

func (s *Scheduler) send(ctx context.Context, prospect *models.Prospect) error {
	text, err := s.generator.GenerateFollowUp(ctx, prospect)
	if err != nil {
		return fmt.Errorf("failed to generate follow-up: %w", err)
	}

	attempt := prospect.FollowUpCount + 1
	meta := map[string]any{"follow_up_attempt": attempt}
	if _, err := s.deliverer.Send(ctx, prospect, text, meta); err != nil {
		return fmt.Errorf("failed to send follow-up: %w", err)
	}

	if err := s.prospects.RecordFollowUp(ctx, prospect.TenantID, prospect.ID, s.now()); err != nil {
		return fmt.Errorf("failed to record follow-up: %w", err)
	}

	s.logger.Info("follow-up sent",
		zap.String("prospect_id", prospect.ID.String()),
		zap.Int("attempt", attempt))
	return nil
}
