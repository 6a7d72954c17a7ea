package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/cache"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"go.uber.org/zap"
)

var ErrMissingTenant = errors.New("revocation requires a tenant id")

// HashToken returns the hex SHA-256 digest under which a token is denylisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Checker answers whether a credential was revoked before its natural expiry.
// Postgres is the system of record. The optional hint cache only ever
// short-circuits to "revoked".
type Checker struct {
	store  store.RevocationStore
	hints  cache.RevocationHints
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Checker)

// WithHints enables the positive-only revocation cache.
func WithHints(h cache.RevocationHints) Option {
	return func(c *Checker) {
		c.hints = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

func NewChecker(s store.RevocationStore, opts ...Option) *Checker {
	c := &Checker{store: s, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRevoked checks an access token within tenantID.
func (c *Checker) IsRevoked(ctx context.Context, token string, tenantID uuid.UUID) (bool, error) {
	return c.IsRevokedKind(ctx, token, tenantID, models.TokenKindAccess)
}

// IsRevokedKind checks a token of the given kind. A storage failure is
// returned as an error, never as "not revoked".
func (c *Checker) IsRevokedKind(ctx context.Context, token string, tenantID uuid.UUID, kind string) (bool, error) {
	if tenantID == uuid.Nil {
		return false, ErrMissingTenant
	}
	hash := HashToken(token)

	if c.hints != nil {
		hit, err := c.hints.IsMarkedRevoked(ctx, tenantID, kind, hash)
		if err != nil {
			c.logger.Warn("revocation hint lookup failed", zap.Error(err))
		} else if hit {
			return true, nil
		}
	}

	revoked, err := c.store.IsTokenRevoked(ctx, tenantID, kind, hash)
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return revoked, nil
}

// IsRefreshRevoked checks a refresh token against every tenant's denylist.
// Refresh requests may arrive without a tenant, so the lookup is keyed by
// hash and kind only and always goes to the store.
func (c *Checker) IsRefreshRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := c.store.IsTokenRevokedAnyTenant(ctx, models.TokenKindRefresh, HashToken(token))
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return revoked, nil
}

// Revocation describes a credential to denylist until ExpiresAt.
type Revocation struct {
	Token     string
	Kind      string
	UserID    string
	TenantID  uuid.UUID
	ExpiresAt time.Time
}

// Revoke persists the revocation and then marks the hint cache. Tokens that
// already expired are not recorded.
func (c *Checker) Revoke(ctx context.Context, r Revocation) error {
	if r.TenantID == uuid.Nil {
		return ErrMissingTenant
	}
	if r.Kind == "" {
		r.Kind = models.TokenKindAccess
	}
	now := c.now().UTC()
	if !r.ExpiresAt.After(now) {
		return nil
	}

	hash := HashToken(r.Token)
	entry := &models.RevocationEntry{
		ID:        uuid.New(),
		TokenHash: hash,
		TokenKind: r.Kind,
		UserID:    r.UserID,
		TenantID:  r.TenantID,
		ExpiresAt: r.ExpiresAt.UTC(),
		RevokedAt: now,
	}
	if err := c.store.RevokeToken(ctx, entry); err != nil {
		return err
	}

	if c.hints != nil {
		if err := c.hints.MarkRevoked(ctx, r.TenantID, r.Kind, hash, r.ExpiresAt.Sub(now)); err != nil {
			c.logger.Warn("revocation hint write failed",
				zap.String("tenant_id", r.TenantID.String()),
				zap.String("kind", r.Kind),
				zap.Error(err))
		}
	}
	return nil
}

// Sweep deletes entries whose expiry has passed.
func (c *Checker) Sweep(ctx context.Context) (int64, error) {
	return c.store.DeleteExpiredRevocations(ctx, c.now().UTC())
}
