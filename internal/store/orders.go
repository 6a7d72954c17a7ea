package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
)

const orderColumns = `id, tenant_id, reference, status, total_cents, created_at, updated_at`

// OrderRepository reads and writes tenant-owned orders. Queries carry no
// tenant predicate; row-level security on the bound connection filters them.
type OrderRepository struct {
	binder *Binder
}

func NewOrderRepository(b *Binder) *OrderRepository {
	return &OrderRepository{binder: b}
}

func (r *OrderRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	conn, err := r.binder.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts an order. tenant_id is filled from the bound session setting,
// and the policy's WITH CHECK rejects any mismatch.
func (r *OrderRepository) Create(ctx context.Context, tenantID uuid.UUID, order *models.Order) (*models.Order, error) {
	var created *models.Order
	err := r.binder.WithTx(ctx, tenantID, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`INSERT INTO orders (id, reference, status, total_cents, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+orderColumns,
			order.ID, order.Reference, order.Status, order.TotalCents, order.CreatedAt, order.UpdatedAt))
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("create order: %w", err)
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.TenantID, &o.Reference, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
