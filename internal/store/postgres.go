package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
)

const tenantColumns = `id, name, subdomain, settings, is_active, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`, subdomain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by subdomain: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, subdomain, settings, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenant.ID, tenant.Name, tenant.Subdomain, []byte(tenant.Settings), tenant.IsActive,
		tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, id uuid.UUID, opts ...TenantUpdateOption) (*models.Tenant, error) {
	params := NewTenantUpdate(opts...)

	query := `UPDATE tenants SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	if params.Name != nil {
		query += fmt.Sprintf(", name = $%d", argIdx)
		args = append(args, *params.Name)
		argIdx++
	}
	if params.Settings != nil {
		query += fmt.Sprintf(", settings = $%d", argIdx)
		args = append(args, []byte(params.Settings))
		argIdx++
	}
	if params.IsActive != nil {
		query += fmt.Sprintf(", is_active = $%d", argIdx)
		args = append(args, *params.IsActive)
		argIdx++
	}

	query += " WHERE id = $1 RETURNING " + tenantColumns

	t, err := scanTenant(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	return t, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var settings []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &settings, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Settings = settings
	return &t, nil
}

// --- Revocations ---

// RevokeToken records a revoked credential. Re-revoking the same token keeps
// the later expiry.
func (s *PostgresStore) RevokeToken(ctx context.Context, entry *models.RevocationEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_blacklist (id, token_hash, token_kind, user_id, tenant_id, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, token_kind, token_hash) DO UPDATE SET
		   expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)`,
		entry.ID, entry.TokenHash, entry.TokenKind, entry.UserID, entry.TenantID,
		entry.ExpiresAt, entry.RevokedAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether an unexpired revocation exists for the hash
// within the tenant. Query errors are returned to the caller unchanged in meaning.
func (s *PostgresStore) IsTokenRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM token_blacklist
		   WHERE tenant_id = $1 AND token_kind = $2 AND token_hash = $3 AND expires_at > NOW()
		 )`, tenantID, kind, tokenHash,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

// IsTokenRevokedAnyTenant reports whether any tenant holds an unexpired
// revocation for the hash.
func (s *PostgresStore) IsTokenRevokedAnyTenant(ctx context.Context, kind, tokenHash string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM token_blacklist
		   WHERE token_kind = $1 AND token_hash = $2 AND expires_at > NOW()
		 )`, kind, tokenHash,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
