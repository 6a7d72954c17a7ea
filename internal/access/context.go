package access

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
)

// Context is what the pipeline established for one request. It is passed to
// handlers explicitly and never stored.
type Context struct {
	Tenant *tenant.Context
	Claims *auth.Claims
	Token  string
}

// Handler is an HTTP handler that receives the request's access context.
type Handler func(w http.ResponseWriter, r *http.Request, ac *Context)

// TenantID returns the resolved tenant, or the claims tenant when the
// request carried no tenant header.
func (c *Context) TenantID() (uuid.UUID, bool) {
	if c.Tenant != nil {
		return c.Tenant.TenantID, true
	}
	if c.Claims != nil && !c.Claims.IsPending() && c.Claims.TenantID != uuid.Nil {
		return c.Claims.TenantID, true
	}
	return uuid.Nil, false
}
