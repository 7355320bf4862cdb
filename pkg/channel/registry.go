package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry holds the live connection per tenant. It is the single
// authoritative piece of in-memory channel state; check-then-create happens
// under one lock so the reconcile loop can never start a duplicate
// connection for a tenant.
type Registry struct {
	mu      sync.Mutex
	clients map[uuid.UUID]Client
	logger  *zap.Logger
}

// NewRegistry creates an empty connection Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[uuid.UUID]Client),
		logger:  logger.Named("registry"),
	}
}

// Get returns the tenant's live client, if any.
func (r *Registry) Get(tenantID uuid.UUID) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[tenantID]
	return c, ok
}

// Has reports whether the tenant has a live connection.
func (r *Registry) Has(tenantID uuid.UUID) bool {
	_, ok := r.Get(tenantID)
	return ok
}

// StartIfAbsent creates and registers a connection for the tenant unless
// one already exists. The create callback runs under the registry lock; it
// must not call back into the Registry.
func (r *Registry) StartIfAbsent(ctx context.Context, tenantID uuid.UUID, create func(ctx context.Context) (Client, error)) (Client, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[tenantID]; ok {
		return existing, false, nil
	}

	client, err := create(ctx)
	if err != nil {
		return nil, false, err
	}
	r.clients[tenantID] = client

	r.logger.Info("channel connection started",
		zap.String("tenant_id", tenantID.String()))

	return client, true, nil
}

// Stop tears down and removes the tenant's connection, if present.
func (r *Registry) Stop(tenantID uuid.UUID) {
	r.mu.Lock()
	client, ok := r.clients[tenantID]
	if ok {
		delete(r.clients, tenantID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := client.Close(); err != nil {
		r.logger.Warn("failed to close channel connection",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}

	r.logger.Info("channel connection stopped",
		zap.String("tenant_id", tenantID.String()))
}

// TenantIDs returns the tenants with live connections.
func (r *Registry) TenantIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll drains every live connection. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[uuid.UUID]Client)
	r.mu.Unlock()

	for tenantID, client := range clients {
		if err := client.Close(); err != nil {
			r.logger.Warn("failed to close channel connection",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}
}
