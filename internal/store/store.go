package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface for system tables. Tenant-owned tables
// are reached only through a Binder.
type Store interface {
	Ping(ctx context.Context) error
	TenantStore
	RevocationStore
}

// TenantStore reads and writes the tenants table. Reads are never cached.
type TenantStore interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	UpdateTenant(ctx context.Context, id uuid.UUID, opts ...TenantUpdateOption) (*models.Tenant, error)
}

// RevocationStore is the persisted credential denylist.
type RevocationStore interface {
	RevokeToken(ctx context.Context, entry *models.RevocationEntry) error
	IsTokenRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string) (bool, error)
	IsTokenRevokedAnyTenant(ctx context.Context, kind, tokenHash string) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error)
}

// TenantUpdate is the set of tenant fields an update touches. Nil fields are
// left unchanged.
type TenantUpdate struct {
	Name     *string
	Settings json.RawMessage
	IsActive *bool
}

type TenantUpdateOption func(*TenantUpdate)

func NewTenantUpdate(opts ...TenantUpdateOption) TenantUpdate {
	var u TenantUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// Apply copies the set fields onto t.
func (u TenantUpdate) Apply(t *models.Tenant) {
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Settings != nil {
		t.Settings = u.Settings
	}
	if u.IsActive != nil {
		t.IsActive = *u.IsActive
	}
}

func WithName(name string) TenantUpdateOption {
	return func(p *TenantUpdate) {
		p.Name = &name
	}
}

func WithSettings(settings json.RawMessage) TenantUpdateOption {
	return func(p *TenantUpdate) {
		p.Settings = settings
	}
}

func WithActive(active bool) TenantUpdateOption {
	return func(p *TenantUpdate) {
		p.IsActive = &active
	}
}
