package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

type memMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*models.Message
	order    []uuid.UUID
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: map[uuid.UUID]*models.Message{}}
}

func (r *memMessageRepo) Create(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusSent
	}
	msg.CreatedAt = time.Now()
	r.messages[msg.ID] = msg
	r.order = append(r.order, msg.ID)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, _, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return msg, nil
}

func (r *memMessageRepo) ListRecent(_ context.Context, _, prospectID uuid.UUID, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, id := range r.order {
		if r.messages[id].ProspectID == prospectID {
			out = append(out, r.messages[id])
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memMessageRepo) Last(_ context.Context, _, prospectID uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if r.messages[r.order[i]].ProspectID == prospectID {
			return r.messages[r.order[i]], nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memMessageRepo) ListPendingOutbound(_ context.Context, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, id := range r.order {
		msg := r.messages[id]
		if msg.Direction == models.DirectionOutbound && msg.Status == models.MessageStatusPending {
			out = append(out, msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memMessageRepo) MarkSent(_ context.Context, id uuid.UUID, channelMessageID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.Status != models.MessageStatusPending {
		return apperrors.ErrNotFound
	}
	msg.Status = models.MessageStatusSent
	msg.ChannelMessageID = channelMessageID
	return nil
}

func (r *memMessageRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.Status != models.MessageStatusPending {
		return apperrors.ErrNotFound
	}
	msg.Status = models.MessageStatusFailed
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["failure_reason"] = reason
	return nil
}

type memTenantRepo struct {
	tenants map[uuid.UUID]*models.Tenant
}

func (r *memTenantRepo) Create(_ context.Context, tenant *models.Tenant) error {
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *memTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, ok := r.tenants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return tenant, nil
}

func (r *memTenantRepo) ListActive(_ context.Context) ([]*models.Tenant, error) {
	var out []*models.Tenant
	for _, t := range r.tenants {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeDirect struct {
	sent    []fakeDirectSend
	nextID  int64
	sendErr error
}

type fakeDirectSend struct {
	chatID int64
	text   string
}

func (d *fakeDirect) SendText(chatID int64, text string) (int64, error) {
	if d.sendErr != nil {
		return 0, d.sendErr
	}
	d.sent = append(d.sent, fakeDirectSend{chatID: chatID, text: text})
	d.nextID++
	return d.nextID, nil
}

func directProspect(tenantID uuid.UUID, channelUserID int64) *models.Prospect {
	return &models.Prospect{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ChannelUserID: &channelUserID,
		Source:        models.SourceBot,
		Stage:         models.StageConsulting,
	}
}

func TestServiceSendDirect(t *testing.T) {
	messages := newMemMessageRepo()
	direct := &fakeDirect{}
	svc := NewService(messages, &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}, direct, 0, zap.NewNop())

	prospect := directProspect(uuid.New(), 555)
	msg, err := svc.Send(context.Background(), prospect, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, msg.Status)
	require.NotNil(t, msg.ChannelMessageID)
	require.Len(t, direct.sent, 1)
	assert.Equal(t, int64(555), direct.sent[0].chatID)
}

func TestServiceSendDirectFailurePersisted(t *testing.T) {
	messages := newMemMessageRepo()
	direct := &fakeDirect{sendErr: fmt.Errorf("blocked by user")}
	svc := NewService(messages, &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}, direct, 0, zap.NewNop())

	prospect := directProspect(uuid.New(), 555)
	_, err := svc.Send(context.Background(), prospect, "hello", nil)
	require.Error(t, err)

	pending, err := messages.ListPendingOutbound(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed direct sends must not enter the queue")

	require.Len(t, messages.order, 1)
	stored := messages.messages[messages.order[0]]
	assert.Equal(t, models.MessageStatusFailed, stored.Status)
	assert.Equal(t, "blocked by user", stored.Metadata["failure_reason"])
}

func TestServiceSendHumanlikeQueues(t *testing.T) {
	messages := newMemMessageRepo()
	direct := &fakeDirect{}
	svc := NewService(messages, &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}, direct, 0, zap.NewNop())

	prospect := directProspect(uuid.New(), 555)
	prospect.Source = models.SourceHumanlike

	msg, err := svc.Send(context.Background(), prospect, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Empty(t, direct.sent, "human-like sends go through the queue, not the bot")

	pending, err := messages.ListPendingOutbound(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestNotifyOperatorPrefersTenantChat(t *testing.T) {
	tenantID := uuid.New()
	tenants := &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{
		tenantID: {ID: tenantID, OperatorChatID: 9001, IsActive: true},
	}}
	direct := &fakeDirect{}
	svc := NewService(newMemMessageRepo(), tenants, direct, 42, zap.NewNop())

	require.NoError(t, svc.NotifyOperator(context.Background(), tenantID, "hot lead"))
	require.Len(t, direct.sent, 1)
	assert.Equal(t, int64(9001), direct.sent[0].chatID)
}

func TestNotifyOperatorGlobalFallback(t *testing.T) {
	tenants := &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}
	direct := &fakeDirect{}
	svc := NewService(newMemMessageRepo(), tenants, direct, 42, zap.NewNop())

	require.NoError(t, svc.NotifyOperator(context.Background(), uuid.New(), "hot lead"))
	require.Len(t, direct.sent, 1)
	assert.Equal(t, int64(42), direct.sent[0].chatID)
}

func TestNotifyOperatorNoChatConfigured(t *testing.T) {
	tenants := &memTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}
	direct := &fakeDirect{}
	svc := NewService(newMemMessageRepo(), tenants, direct, 0, zap.NewNop())

	require.NoError(t, svc.NotifyOperator(context.Background(), uuid.New(), "hot lead"))
	assert.Empty(t, direct.sent)
}
