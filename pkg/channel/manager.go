package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/logging"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// TenantInboundHandler receives inbound updates tagged with their tenant.
type TenantInboundHandler func(tenantID uuid.UUID, update InboundUpdate)

// Manager owns the per-tenant session lifecycle: the multi-step auth flow,
// the live connection registry and the reconciliation loop that keeps
// authorized+active tenants connected.
type Manager struct {
	sessions  repositories.ChannelSessionRepository
	dialer    Dialer
	registry  *Registry
	redis     *redis.Client
	cfg       *config.ChannelConfig
	onInbound TenantInboundHandler
	logger    *zap.Logger

	// Fallback pending-flow store when redis is not configured.
	flowMu sync.Mutex
	flows  map[uuid.UUID]pendingFlow
}

type pendingFlow struct {
	token   string
	expires time.Time
}

// NewManager creates a session lifecycle Manager. redisClient may be nil;
// pending auth flows then live in process memory only.
func NewManager(
	sessions repositories.ChannelSessionRepository,
	dialer Dialer,
	registry *Registry,
	redisClient *redis.Client,
	cfg *config.ChannelConfig,
	onInbound TenantInboundHandler,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		sessions:  sessions,
		dialer:    dialer,
		registry:  registry,
		redis:     redisClient,
		cfg:       cfg,
		onInbound: onInbound,
		logger:    logger.Named("channel"),
		flows:     make(map[uuid.UUID]pendingFlow),
	}
}

// StartAuth begins (or restarts) the login flow for a tenant: requests a
// one-time code and records the pending flow. Returns where the code was
// delivered. Typed AuthErrors surface to the caller as-is.
func (m *Manager) StartAuth(ctx context.Context, tenantID uuid.UUID, phone string, apiID int, apiHash string, forceSMS bool) (string, error) {
	result, err := m.dialer.StartLogin(ctx, phone, apiID, apiHash, forceSMS)
	if err != nil {
		m.recordAuthFailure(ctx, tenantID, err)
		return "", err
	}

	session := &models.ChannelSession{
		TenantID: tenantID,
		Phone:    phone,
		APIID:    apiID,
		APIHash:  apiHash,
		Status:   models.SessionStatusCodeSent,
	}
	if err := m.sessions.Upsert(ctx, session); err != nil {
		return "", fmt.Errorf("failed to record session: %w", err)
	}

	if err := m.storeFlow(ctx, tenantID, result.FlowToken); err != nil {
		return "", err
	}

	m.logger.Info("login code requested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("phone", logging.MaskPhone(phone)),
		zap.String("delivered_via", result.CodeDeliveredVia))

	return result.CodeDeliveredVia, nil
}

// VerifyCode advances the login flow with the one-time code. Returns true
// when the account needs its two-step password next.
func (m *Manager) VerifyCode(ctx context.Context, tenantID uuid.UUID, code string) (bool, error) {
	flowToken, err := m.loadFlow(ctx, tenantID)
	if err != nil {
		return false, err
	}

	result, err := m.dialer.VerifyCode(ctx, flowToken, code)
	if err != nil {
		m.recordAuthFailure(ctx, tenantID, err)
		return false, err
	}

	if result.PasswordRequired {
		if err := m.storeFlow(ctx, tenantID, result.FlowToken); err != nil {
			return false, err
		}
		if err := m.sessions.SetStatus(ctx, tenantID, models.SessionStatusPasswordWait, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, m.finishLogin(ctx, tenantID, result.SessionToken)
}

// SubmitPassword completes a two-step-verification login.
func (m *Manager) SubmitPassword(ctx context.Context, tenantID uuid.UUID, password string) error {
	flowToken, err := m.loadFlow(ctx, tenantID)
	if err != nil {
		return err
	}

	result, err := m.dialer.VerifyPassword(ctx, flowToken, password)
	if err != nil {
		m.recordAuthFailure(ctx, tenantID, err)
		return err
	}

	return m.finishLogin(ctx, tenantID, result.SessionToken)
}

func (m *Manager) finishLogin(ctx context.Context, tenantID uuid.UUID, sessionToken string) error {
	if err := m.sessions.SetAuthorized(ctx, tenantID, sessionToken); err != nil {
		return err
	}
	m.clearFlow(ctx, tenantID)

	if err := m.connect(ctx, tenantID, sessionToken); err != nil {
		m.logger.Warn("post-login connect failed, reconcile will retry",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}

	m.logger.Info("session authorized", zap.String("tenant_id", tenantID.String()))
	return nil
}

// SetActive toggles a tenant's session. Deactivating tears down the live
// connection; reactivating lets the reconcile loop restart it.
func (m *Manager) SetActive(ctx context.Context, tenantID uuid.UUID, active bool) error {
	if err := m.sessions.SetActive(ctx, tenantID, active); err != nil {
		return err
	}

	if !active {
		m.registry.Stop(tenantID)
	}
	return nil
}

// Client returns the tenant's live connection.
func (m *Manager) Client(tenantID uuid.UUID) (Client, error) {
	client, ok := m.registry.Get(tenantID)
	if !ok {
		return nil, apperrors.ErrSessionNotActive
	}
	return client, nil
}

// ConnectedTenants lists the tenants with a live connection.
func (m *Manager) ConnectedTenants() []uuid.UUID {
	return m.registry.TenantIDs()
}

// Typing shows a typing indicator through the tenant's connection.
func (m *Manager) Typing(ctx context.Context, tenantID uuid.UUID, userID int64) error {
	client, err := m.Client(tenantID)
	if err != nil {
		return err
	}
	return client.Typing(ctx, userID)
}

// Reconcile compares sessions marked authorized+active against live
// connections and starts any missing ones.
func (m *Manager) Reconcile(ctx context.Context) {
	sessions, err := m.sessions.ListConnectable(ctx)
	if err != nil {
		m.logger.Error("failed to list connectable sessions", zap.Error(err))
		return
	}

	for _, session := range sessions {
		if m.registry.Has(session.TenantID) {
			continue
		}

		if err := m.connect(ctx, session.TenantID, session.SessionToken); err != nil {
			m.logger.Error("failed to reconnect session",
				zap.String("tenant_id", session.TenantID.String()),
				zap.Error(err))

			msg := err.Error()
			if setErr := m.sessions.SetStatus(ctx, session.TenantID, models.SessionStatusError, &msg); setErr != nil {
				m.logger.Warn("failed to record session error", zap.Error(setErr))
			}
		}
	}
}

// RunReconcileLoop runs Reconcile on the configured interval until ctx is
// cancelled, then drains all live connections.
func (m *Manager) RunReconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileEvery)
	defer ticker.Stop()

	m.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			m.registry.CloseAll()
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// connect opens the tenant's connection and seeds its contact cache. The
// check-then-create runs atomically inside the registry.
func (m *Manager) connect(ctx context.Context, tenantID uuid.UUID, sessionToken string) error {
	client, started, err := m.registry.StartIfAbsent(ctx, tenantID, func(ctx context.Context) (Client, error) {
		return m.dialer.Connect(ctx, sessionToken, func(update InboundUpdate) {
			if m.onInbound != nil {
				m.onInbound(tenantID, update)
			}
		})
	})
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	if err := client.SeedContacts(ctx); err != nil {
		m.logger.Warn("failed to seed contacts",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}

	if err := m.sessions.SetStatus(ctx, tenantID, models.SessionStatusConnected, nil); err != nil {
		m.logger.Warn("failed to record connected status", zap.Error(err))
	}

	return nil
}

func (m *Manager) recordAuthFailure(ctx context.Context, tenantID uuid.UUID, cause error) {
	msg := cause.Error()
	if err := m.sessions.SetStatus(ctx, tenantID, models.SessionStatusError, &msg); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		m.logger.Warn("failed to record auth failure", zap.Error(err))
	}
}

// ----------------------------------------------------------------------------
// Pending flow storage
// ----------------------------------------------------------------------------

func flowKey(tenantID uuid.UUID) string {
	return "authflow:" + tenantID.String()
}

func (m *Manager) storeFlow(ctx context.Context, tenantID uuid.UUID, token string) error {
	if m.redis != nil {
		if err := m.redis.Set(ctx, flowKey(tenantID), token, m.cfg.AuthStateTTL).Err(); err != nil {
			return fmt.Errorf("failed to store auth flow: %w", err)
		}
		return nil
	}

	m.flowMu.Lock()
	defer m.flowMu.Unlock()
	m.flows[tenantID] = pendingFlow{token: token, expires: time.Now().Add(m.cfg.AuthStateTTL)}
	return nil
}

func (m *Manager) loadFlow(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if m.redis != nil {
		token, err := m.redis.Get(ctx, flowKey(tenantID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", apperrors.ErrNoAuthFlow
		}
		if err != nil {
			return "", fmt.Errorf("failed to load auth flow: %w", err)
		}
		return token, nil
	}

	m.flowMu.Lock()
	defer m.flowMu.Unlock()
	flow, ok := m.flows[tenantID]
	if !ok || time.Now().After(flow.expires) {
		delete(m.flows, tenantID)
		return "", apperrors.ErrNoAuthFlow
	}
	return flow.token, nil
}

func (m *Manager) clearFlow(ctx context.Context, tenantID uuid.UUID) {
	if m.redis != nil {
		if err := m.redis.Del(ctx, flowKey(tenantID)).Err(); err != nil {
			m.logger.Debug("failed to clear auth flow", zap.Error(err))
		}
		return
	}

	m.flowMu.Lock()
	defer m.flowMu.Unlock()
	delete(m.flows, tenantID)
}
