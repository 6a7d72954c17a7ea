package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// RolePending marks an identity that has signed in but belongs to no tenant yet.
	RolePending = "pending"
	// RoleAdmin is granted to the identity that creates a tenant.
	RoleAdmin = "admin"
)

// Claims is the verified payload of a bearer credential.
type Claims struct {
	Subject   string
	TenantID  uuid.UUID
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsPending reports whether the identity has not joined or created a tenant.
func (c *Claims) IsPending() bool {
	return c.Role == RolePending
}

// HasRole reports whether the claims carry one of roles.
func (c *Claims) HasRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// tokenClaims is the wire shape of the credential payload.
type tokenClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
