package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is a tenant-owned record. Visibility is enforced by row-level security.
type Order struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	TenantID   uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	Reference  string    `db:"reference"   json:"reference"`
	Status     string    `db:"status"      json:"status"`
	TotalCents int64     `db:"total_cents" json:"total_cents"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
