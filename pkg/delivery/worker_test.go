package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/channel"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

type memProspectRepo struct {
	prospects map[uuid.UUID]*models.Prospect
}

func (r *memProspectRepo) Create(_ context.Context, p *models.Prospect) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.prospects[p.ID] = p
	return nil
}

func (r *memProspectRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.Prospect, error) {
	p, ok := r.prospects[id]
	if !ok || p.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (r *memProspectRepo) GetByChannelUser(_ context.Context, tenantID uuid.UUID, channelUserID int64) (*models.Prospect, error) {
	for _, p := range r.prospects {
		if p.TenantID == tenantID && p.ChannelUserID != nil && *p.ChannelUserID == channelUserID {
			return p, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memProspectRepo) Update(_ context.Context, p *models.Prospect) error {
	r.prospects[p.ID] = p
	return nil
}

func (r *memProspectRepo) TouchLastMessage(_ context.Context, _, id uuid.UUID, at time.Time, incrementUnread bool) error {
	p := r.prospects[id]
	p.LastMessageAt = &at
	if incrementUnread {
		p.UnreadCount++
	}
	return nil
}

func (r *memProspectRepo) MarkRead(_ context.Context, _, id uuid.UUID) error {
	r.prospects[id].UnreadCount = 0
	return nil
}

func (r *memProspectRepo) RecordFollowUp(_ context.Context, _, id uuid.UUID, at time.Time) error {
	p := r.prospects[id]
	p.FollowUpCount++
	p.LastFollowUpAt = &at
	p.Stage = models.StageFollowUp
	return nil
}

func (r *memProspectRepo) ResetFollowUps(_ context.Context, _, id uuid.UUID) error {
	r.prospects[id].FollowUpCount = 0
	return nil
}

func (r *memProspectRepo) ListFollowUpCandidates(_ context.Context, tenantID uuid.UUID, maxAttempts int) ([]*models.Prospect, error) {
	var out []*models.Prospect
	for _, p := range r.prospects {
		if p.TenantID == tenantID && p.EligibleForFollowUp() && p.FollowUpCount < maxAttempts && p.LastMessageAt != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memProspectRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, stage *models.Stage) ([]*models.Prospect, error) {
	var out []*models.Prospect
	for _, p := range r.prospects {
		if p.TenantID == tenantID && (stage == nil || p.Stage == *stage) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeChannelClient struct {
	resolveCachedErr error
	resolveForcedErr error
	usernameErr      error
	sendErr          error
	resolveCalls     []bool
	sentTo           []int64
	sentUsernames    []string
	nextMessageID    int64
	seeded           bool
}

func (c *fakeChannelClient) SendText(_ context.Context, userID int64, _ string) (int64, error) {
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.sentTo = append(c.sentTo, userID)
	c.nextMessageID++
	return c.nextMessageID, nil
}

func (c *fakeChannelClient) SendTextToUsername(_ context.Context, username, _ string) (int64, error) {
	if c.usernameErr != nil {
		return 0, c.usernameErr
	}
	c.sentUsernames = append(c.sentUsernames, username)
	c.nextMessageID++
	return c.nextMessageID, nil
}

func (c *fakeChannelClient) ResolveUser(_ context.Context, userID int64, force bool) (*channel.ResolvedUser, error) {
	c.resolveCalls = append(c.resolveCalls, force)
	if force {
		if c.resolveForcedErr != nil {
			return nil, c.resolveForcedErr
		}
	} else if c.resolveCachedErr != nil {
		return nil, c.resolveCachedErr
	}
	return &channel.ResolvedUser{ID: userID}, nil
}

func (c *fakeChannelClient) SeedContacts(_ context.Context) error {
	c.seeded = true
	return nil
}

func (c *fakeChannelClient) Typing(_ context.Context, _ int64) error { return nil }

func (c *fakeChannelClient) Connected() bool { return true }

func (c *fakeChannelClient) Close() error { return nil }

type fakeSessions struct {
	client channel.Client
	err    error
}

func (s *fakeSessions) Client(_ uuid.UUID) (channel.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

func queuedMessage(t *testing.T, messages *memMessageRepo, prospect *models.Prospect, text string) *models.Message {
	t.Helper()
	msg := &models.Message{
		TenantID:   prospect.TenantID,
		ProspectID: prospect.ID,
		Direction:  models.DirectionOutbound,
		Status:     models.MessageStatusPending,
		Content:    text,
	}
	require.NoError(t, messages.Create(context.Background(), msg))
	return msg
}

func humanlikeProspect(tenantID uuid.UUID, channelUserID int64) *models.Prospect {
	p := directProspect(tenantID, channelUserID)
	p.Source = models.SourceHumanlike
	return p
}

func TestWorkerDeliversPending(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}
	client := &fakeChannelClient{}

	prospect := humanlikeProspect(tenantID, 777)
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{client: client}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	stored := messages.messages[msg.ID]
	assert.Equal(t, models.MessageStatusSent, stored.Status)
	require.NotNil(t, stored.ChannelMessageID)
	assert.Equal(t, []int64{777}, client.sentTo)
}

func TestWorkerLeavesPendingWithoutSession(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}

	prospect := humanlikeProspect(tenantID, 777)
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{err: apperrors.ErrSessionNotActive}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	assert.Equal(t, models.MessageStatusPending, messages.messages[msg.ID].Status,
		"a missing session is transient, the row must stay queued")
}

func TestWorkerMarksFailedOnSendError(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}
	client := &fakeChannelClient{sendErr: fmt.Errorf("peer flood")}

	prospect := humanlikeProspect(tenantID, 777)
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{client: client}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	stored := messages.messages[msg.ID]
	assert.Equal(t, models.MessageStatusFailed, stored.Status)
	assert.Contains(t, stored.Metadata["failure_reason"], "peer flood")
}

func TestWorkerResolutionFallsBackToUsername(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}
	client := &fakeChannelClient{
		resolveCachedErr: fmt.Errorf("peer not cached"),
		resolveForcedErr: fmt.Errorf("peer unknown"),
	}

	prospect := humanlikeProspect(tenantID, 777)
	username := "alice"
	prospect.Username = &username
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{client: client}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	assert.Equal(t, models.MessageStatusSent, messages.messages[msg.ID].Status)
	assert.Equal(t, []string{"alice"}, client.sentUsernames)
	assert.Empty(t, client.sentTo)
	assert.Equal(t, []bool{false, true}, client.resolveCalls, "cached lookup first, then forced refresh")
}

func TestWorkerRawSendWhenResolutionExhausted(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}
	client := &fakeChannelClient{
		resolveCachedErr: fmt.Errorf("peer not cached"),
		resolveForcedErr: fmt.Errorf("peer unknown"),
	}

	prospect := humanlikeProspect(tenantID, 777)
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{client: client}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	assert.Equal(t, models.MessageStatusSent, messages.messages[msg.ID].Status)
	assert.Equal(t, []int64{777}, client.sentTo)
}

func TestWorkerFailsProspectWithoutIdentity(t *testing.T) {
	tenantID := uuid.New()
	messages := newMemMessageRepo()
	prospects := &memProspectRepo{prospects: map[uuid.UUID]*models.Prospect{}}

	prospect := &models.Prospect{
		ID:       uuid.New(),
		TenantID: tenantID,
		Source:   models.SourceHumanlike,
		Stage:    models.StageNew,
	}
	require.NoError(t, prospects.Create(context.Background(), prospect))
	msg := queuedMessage(t, messages, prospect, "still interested?")

	w := NewWorker(messages, prospects, &fakeSessions{client: &fakeChannelClient{}}, time.Second, zap.NewNop())
	w.ProcessPending(context.Background())

	assert.Equal(t, models.MessageStatusFailed, messages.messages[msg.ID].Status)
}
