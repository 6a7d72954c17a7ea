package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant represents a customer organization. Every business row belongs to a tenant.
// Tenants are deactivated rather than deleted.
type Tenant struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	Name      string          `db:"name"       json:"name"`
	Subdomain string          `db:"subdomain"  json:"subdomain"`
	Settings  json.RawMessage `db:"settings"   json:"settings,omitempty"`
	IsActive  bool            `db:"is_active"  json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
