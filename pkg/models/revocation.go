package models

import (
	"time"

	"github.com/google/uuid"
)

// Token kinds recorded in the revocation list.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// RevocationEntry marks a credential as invalid before its natural expiry.
// Only the SHA-256 hash of the credential is stored.
type RevocationEntry struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TokenHash string    `db:"token_hash" json:"-"`
	TokenKind string    `db:"token_kind" json:"token_kind"`
	UserID    string    `db:"user_id"    json:"user_id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	RevokedAt time.Time `db:"revoked_at" json:"revoked_at"`
}
