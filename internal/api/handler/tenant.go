package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"go.uber.org/zap"
)

type TenantHandler struct {
	tenants store.TenantStore
	logger  *zap.Logger
}

func NewTenantHandler(tenants store.TenantStore, logger *zap.Logger) *TenantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantHandler{tenants: tenants, logger: logger}
}

// Current handles GET /api/tenants/current.
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	t, err := h.current(r.Context(), ac)
	if err != nil {
		h.storeError(w, err)
		return
	}
	response.JSON(w, t)
}

type updateTenantRequest struct {
	Name     *string         `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Settings json.RawMessage `json:"settings,omitempty" validate:"omitempty,jsonobject"`
	IsActive *bool           `json:"is_active,omitempty"`
}

// UpdateCurrent handles PATCH /api/tenants/current. Subdomains are immutable.
func (h *TenantHandler) UpdateCurrent(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	tenantID, ok := ac.TenantID()
	if !ok {
		response.Error(w, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required", nil)
		return
	}

	var req updateTenantRequest
	if !decode(w, r, &req) {
		return
	}

	var opts []store.TenantUpdateOption
	if req.Name != nil {
		opts = append(opts, store.WithName(*req.Name))
	}
	if len(req.Settings) > 0 {
		opts = append(opts, store.WithSettings(req.Settings))
	}
	if req.IsActive != nil {
		opts = append(opts, store.WithActive(*req.IsActive))
	}
	if len(opts) == 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "At least one of name, settings or is_active is required", nil)
		return
	}

	t, err := h.tenants.UpdateTenant(r.Context(), tenantID, opts...)
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.logger.Info("tenant updated", zap.String("tenant_id", tenantID.String()), zap.String("user_id", ac.Claims.Subject))
	response.JSON(w, t)
}

func (h *TenantHandler) current(ctx context.Context, ac *access.Context) (*models.Tenant, error) {
	if ac.Tenant != nil && ac.Tenant.Tenant != nil {
		return ac.Tenant.Tenant, nil
	}
	tenantID, ok := ac.TenantID()
	if !ok {
		return nil, store.ErrNotFound
	}
	return h.tenants.GetTenant(ctx, tenantID)
}

func (h *TenantHandler) storeError(w http.ResponseWriter, err error) {
	ae := access.FromStore(err)
	if ae.Status >= http.StatusInternalServerError {
		h.logger.Error("tenant store failure", zap.Error(err))
	}
	access.WriteError(w, ae)
}

