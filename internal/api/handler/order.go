package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"go.uber.org/zap"
)

// OrderRepository is the tenant-scoped order storage. store.OrderRepository
// satisfies it.
type OrderRepository interface {
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Order, error)
	Create(ctx context.Context, tenantID uuid.UUID, order *models.Order) (*models.Order, error)
}

type OrderHandler struct {
	orders OrderRepository
	logger *zap.Logger
}

func NewOrderHandler(orders OrderRepository, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, logger: logger}
}

// List handles GET /api/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	tenantID, ok := ac.TenantID()
	if !ok {
		response.Error(w, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required", nil)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}

	orders, err := h.orders.List(r.Context(), tenantID, limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	response.Collection(w, orders, response.PaginationMeta{
		Page:    1,
		Limit:   limit,
		Total:   len(orders),
		HasNext: len(orders) == limit,
	})
}

type createOrderRequest struct {
	Reference  string `json:"reference" validate:"required,max=64"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=open paid cancelled"`
	TotalCents int64  `json:"total_cents" validate:"gte=0"`
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	tenantID, ok := ac.TenantID()
	if !ok {
		response.Error(w, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required", nil)
		return
	}

	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		req.Status = "open"
	}

	now := time.Now().UTC()
	created, err := h.orders.Create(r.Context(), tenantID, &models.Order{
		ID:         uuid.New(),
		Reference:  req.Reference,
		Status:     req.Status,
		TotalCents: req.TotalCents,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	response.Created(w, created)
}

func (h *OrderHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := access.FromStore(err)
	if ae.Status >= http.StatusInternalServerError {
		h.logger.Error("order store failure", zap.String("path", r.URL.Path), zap.Error(err))
	}
	access.WriteError(w, ae)
}
