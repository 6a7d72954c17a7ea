package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
)

// Header carries the tenant identifier on API requests.
const Header = "X-Tenant-ID"

const (
	apiPrefix  = "/api/"
	authPrefix = "/api/auth/"
	healthPath = "/api/health"
)

var (
	ErrMissingHeader = errors.New("tenant header is required")
	ErrMalformedID   = errors.New("tenant header is not a valid id")
	ErrNotFound      = errors.New("tenant not found")
	ErrInactive      = errors.New("tenant is inactive")
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSubdomain reports whether s is lowercase alphanumeric with single
// inner hyphens and at most 63 characters.
func ValidSubdomain(s string) bool {
	return len(s) <= 63 && subdomainPattern.MatchString(s)
}

// Context is the tenant bound to one request.
type Context struct {
	TenantID uuid.UUID
	Tenant   *models.Tenant
}

// Lookup fetches tenant records. store.TenantStore satisfies it.
type Lookup interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// Resolver maps the tenant header to an active tenant. Records are read on
// every call so deactivation takes effect on the next request.
type Resolver struct {
	tenants Lookup
}

func NewResolver(tenants Lookup) *Resolver {
	return &Resolver{tenants: tenants}
}

// Resolve returns the tenant named by header. With no header it returns a nil
// Context for exempt paths and ErrMissingHeader everywhere else.
func (r *Resolver) Resolve(ctx context.Context, header, path string) (*Context, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		if IsExempt(path) {
			return nil, nil
		}
		return nil, ErrMissingHeader
	}

	id, err := uuid.Parse(header)
	if err != nil || id == uuid.Nil {
		return nil, ErrMalformedID
	}

	t, err := r.tenants.GetTenant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}
	if !t.IsActive {
		return nil, ErrInactive
	}

	return &Context{TenantID: t.ID, Tenant: t}, nil
}

// IsExempt reports whether path may be served without a tenant header: the
// auth entry points, the health check, and anything outside the API prefix.
func IsExempt(path string) bool {
	if !strings.HasPrefix(path, apiPrefix) && path != "/api" {
		return true
	}
	if path == healthPath {
		return true
	}
	if !strings.HasPrefix(path, authPrefix) {
		return false
	}
	p := strings.TrimSuffix(path, "/")
	for _, suffix := range []string{"/login", "/register", "/register-person", "/refresh"} {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}
