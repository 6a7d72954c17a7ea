package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RevocationKey(tenantID uuid.UUID, kind, tokenHash string) string {
	return fmt.Sprintf("revoked:%s:%s:%s", tenantID, kind, tokenHash)
}
