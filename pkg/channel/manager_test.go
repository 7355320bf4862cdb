package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// ----------------------------------------------------------------------------
// Test doubles
// ----------------------------------------------------------------------------

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.ChannelSession
}

var _ repositories.ChannelSessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*models.ChannelSession)}
}

func (r *memSessionRepo) Upsert(_ context.Context, s *models.ChannelSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sessions[s.TenantID] = s
	return nil
}

func (r *memSessionRepo) GetByTenant(_ context.Context, tenantID uuid.UUID) (*models.ChannelSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID]; ok {
		return s, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *memSessionRepo) ListConnectable(context.Context) ([]*models.ChannelSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChannelSession
	for _, s := range r.sessions {
		if s.Connectable() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) SetStatus(_ context.Context, tenantID uuid.UUID, status models.SessionStatus, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.Status = status
	s.LastError = lastError
	return nil
}

func (r *memSessionRepo) SetAuthorized(_ context.Context, tenantID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.SessionToken = token
	s.Authorized = true
	s.IsActive = true
	s.Status = models.SessionStatusConnected
	return nil
}

func (r *memSessionRepo) SetActive(_ context.Context, tenantID uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.IsActive = active
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, tenantID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tenantID)
	return nil
}

type fakeClient struct {
	mu     sync.Mutex
	closed bool
	seeded bool
}

var _ Client = (*fakeClient)(nil)

func (c *fakeClient) SendText(context.Context, int64, string) (int64, error) { return 1, nil }
func (c *fakeClient) SendTextToUsername(context.Context, string, string) (int64, error) {
	return 1, nil
}
func (c *fakeClient) ResolveUser(_ context.Context, id int64, _ bool) (*ResolvedUser, error) {
	return &ResolvedUser{ID: id}, nil
}
func (c *fakeClient) SeedContacts(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded = true
	return nil
}
func (c *fakeClient) Typing(context.Context, int64) error { return nil }
func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}
func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu               sync.Mutex
	passwordRequired bool
	startErr         error
	connects         int
	lastClient       *fakeClient
}

var _ Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) StartLogin(context.Context, string, int, string, bool) (*LoginResult, error) {
	if d.startErr != nil {
		return nil, d.startErr
	}
	return &LoginResult{FlowToken: "flow-1", CodeDeliveredVia: "app"}, nil
}

func (d *fakeDialer) VerifyCode(_ context.Context, flowToken, _ string) (*LoginResult, error) {
	if d.passwordRequired {
		return &LoginResult{FlowToken: flowToken, PasswordRequired: true}, nil
	}
	return &LoginResult{SessionToken: "session-abc"}, nil
}

func (d *fakeDialer) VerifyPassword(context.Context, string, string) (*LoginResult, error) {
	return &LoginResult{SessionToken: "session-abc"}, nil
}

func (d *fakeDialer) Connect(context.Context, string, InboundHandler) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	d.lastClient = &fakeClient{}
	return d.lastClient, nil
}

func testChannelConfig() *config.ChannelConfig {
	return &config.ChannelConfig{
		ReconcileEvery:    15 * time.Second,
		AuthStateTTL:      10 * time.Minute,
		DeliveryPollEvery: 2 * time.Second,
	}
}

func newTestManager(repo *memSessionRepo, dialer *fakeDialer) *Manager {
	return NewManager(repo, dialer, NewRegistry(zap.NewNop()), nil, testChannelConfig(), nil, zap.NewNop())
}

// ----------------------------------------------------------------------------

func TestAuthFlowCodeOnly(t *testing.T) {
	repo := newMemSessionRepo()
	dialer := &fakeDialer{}
	m := newTestManager(repo, dialer)
	tenant := uuid.New()

	via, err := m.StartAuth(context.Background(), tenant, "+79991234567", 123, "hash", false)
	if err != nil {
		t.Fatal(err)
	}
	if via != "app" {
		t.Errorf("delivered via = %q", via)
	}

	s, _ := repo.GetByTenant(context.Background(), tenant)
	if s.Status != models.SessionStatusCodeSent {
		t.Errorf("status = %q, want code_sent", s.Status)
	}

	pwRequired, err := m.VerifyCode(context.Background(), tenant, "12345")
	if err != nil {
		t.Fatal(err)
	}
	if pwRequired {
		t.Error("password unexpectedly required")
	}

	s, _ = repo.GetByTenant(context.Background(), tenant)
	if !s.Authorized || s.SessionToken != "session-abc" {
		t.Errorf("session not authorized: %+v", s)
	}
	if !m.registry.Has(tenant) {
		t.Error("connection not started after login")
	}
}

func TestAuthFlowWithPassword(t *testing.T) {
	repo := newMemSessionRepo()
	dialer := &fakeDialer{passwordRequired: true}
	m := newTestManager(repo, dialer)
	tenant := uuid.New()

	if _, err := m.StartAuth(context.Background(), tenant, "+79991234567", 123, "hash", false); err != nil {
		t.Fatal(err)
	}

	pwRequired, err := m.VerifyCode(context.Background(), tenant, "12345")
	if err != nil {
		t.Fatal(err)
	}
	if !pwRequired {
		t.Fatal("expected password_required")
	}

	s, _ := repo.GetByTenant(context.Background(), tenant)
	if s.Status != models.SessionStatusPasswordWait {
		t.Errorf("status = %q, want password_required", s.Status)
	}

	if err := m.SubmitPassword(context.Background(), tenant, "hunter2"); err != nil {
		t.Fatal(err)
	}
	s, _ = repo.GetByTenant(context.Background(), tenant)
	if !s.Authorized {
		t.Error("session not authorized after password")
	}
}

func TestVerifyCodeWithoutFlow(t *testing.T) {
	m := newTestManager(newMemSessionRepo(), &fakeDialer{})

	_, err := m.VerifyCode(context.Background(), uuid.New(), "12345")
	if !errors.Is(err, apperrors.ErrNoAuthFlow) {
		t.Errorf("err = %v, want ErrNoAuthFlow", err)
	}
}

func TestStartAuthSurfacesTypedErrors(t *testing.T) {
	dialer := &fakeDialer{startErr: &AuthError{Kind: AuthErrRateLimited, RetryAfter: 30 * time.Second}}
	m := newTestManager(newMemSessionRepo(), dialer)

	_, err := m.StartAuth(context.Background(), uuid.New(), "+79991234567", 123, "hash", false)
	authErr, ok := AsAuthError(err)
	if !ok {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Kind != AuthErrRateLimited {
		t.Errorf("kind = %q", authErr.Kind)
	}
	if authErr.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v", authErr.RetryAfter)
	}
}

func TestReconcileStartsMissingConnections(t *testing.T) {
	repo := newMemSessionRepo()
	dialer := &fakeDialer{}
	m := newTestManager(repo, dialer)

	tenant := uuid.New()
	if err := repo.Upsert(context.Background(), &models.ChannelSession{
		TenantID:     tenant,
		SessionToken: "stored-token",
		Authorized:   true,
		IsActive:     true,
		Status:       models.SessionStatusConnected,
	}); err != nil {
		t.Fatal(err)
	}

	m.Reconcile(context.Background())

	if !m.registry.Has(tenant) {
		t.Fatal("reconcile did not start the missing connection")
	}
	if dialer.lastClient == nil || !dialer.lastClient.seeded {
		t.Error("contact cache not seeded on new connection")
	}

	// A second pass must not start a duplicate.
	m.Reconcile(context.Background())
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if dialer.connects != 1 {
		t.Errorf("connects = %d, want 1", dialer.connects)
	}
}

func TestConnectedTenantsListsLiveConnections(t *testing.T) {
	repo := newMemSessionRepo()
	m := newTestManager(repo, &fakeDialer{})

	if got := m.ConnectedTenants(); len(got) != 0 {
		t.Fatalf("expected no live connections, got %d", len(got))
	}

	tenant := uuid.New()
	_ = repo.Upsert(context.Background(), &models.ChannelSession{
		TenantID:     tenant,
		SessionToken: "stored-token",
		Authorized:   true,
		IsActive:     true,
		Status:       models.SessionStatusConnected,
	})
	m.Reconcile(context.Background())

	got := m.ConnectedTenants()
	if len(got) != 1 || got[0] != tenant {
		t.Errorf("ConnectedTenants() = %v, want [%s]", got, tenant)
	}
}

func TestReconcileSkipsInactiveSessions(t *testing.T) {
	repo := newMemSessionRepo()
	m := newTestManager(repo, &fakeDialer{})

	tenant := uuid.New()
	_ = repo.Upsert(context.Background(), &models.ChannelSession{
		TenantID:     tenant,
		SessionToken: "stored-token",
		Authorized:   true,
		IsActive:     false,
	})

	m.Reconcile(context.Background())
	if m.registry.Has(tenant) {
		t.Error("inactive session must not be connected")
	}
}

func TestSetActiveFalseTearsDownConnection(t *testing.T) {
	repo := newMemSessionRepo()
	dialer := &fakeDialer{}
	m := newTestManager(repo, dialer)

	tenant := uuid.New()
	_ = repo.Upsert(context.Background(), &models.ChannelSession{
		TenantID:     tenant,
		SessionToken: "stored-token",
		Authorized:   true,
		IsActive:     true,
	})
	m.Reconcile(context.Background())
	if !m.registry.Has(tenant) {
		t.Fatal("precondition: connection started")
	}

	if err := m.SetActive(context.Background(), tenant, false); err != nil {
		t.Fatal(err)
	}
	if m.registry.Has(tenant) {
		t.Error("connection still live after deactivation")
	}
	if dialer.lastClient.Connected() {
		t.Error("client not closed on deactivation")
	}
}

func TestRegistryStartIfAbsentIsAtomic(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	tenant := uuid.New()

	var created int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = r.StartIfAbsent(context.Background(), tenant, func(context.Context) (Client, error) {
				mu.Lock()
				created++
				mu.Unlock()
				return &fakeClient{}, nil
			})
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("create ran %d times, want 1", created)
	}
}

func TestAuthErrorMessages(t *testing.T) {
	rate := &AuthError{Kind: AuthErrRateLimited, RetryAfter: 45 * time.Second}
	if rate.Error() != "too many attempts, try again in 45s" {
		t.Errorf("rate message = %q", rate.Error())
	}

	phone := &AuthError{Kind: AuthErrInvalidPhone}
	if phone.Error() != "invalid phone number format" {
		t.Errorf("phone message = %q", phone.Error())
	}
}
