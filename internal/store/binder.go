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
)

// TenantSetting is the session attribute read by the row-level security policies.
const TenantSetting = "app.current_tenant"

const (
	bindSessionSQL = `SELECT set_config('` + TenantSetting + `', $1, false)`
	bindLocalSQL   = `SELECT set_config('` + TenantSetting + `', $1, true)`
	clearSQL       = `SELECT set_config('` + TenantSetting + `', '', false)`

	cleanupTimeout = 5 * time.Second
)

var (
	ErrInvalidTenant = errors.New("scoped connection requires a tenant id")
	ErrPoolExhausted = errors.New("timed out waiting for a database connection")
	ErrConnReleased  = errors.New("scoped connection already released")
)

// Querier is the statement surface shared by ScopedConn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AcquireObserver receives the wait time and outcome of every pool acquisition.
type AcquireObserver func(wait time.Duration, err error)

// Binder is the only way to obtain a connection for tenant-owned tables. Every
// acquisition binds the tenant before the connection is handed out, and every
// release clears the binding or destroys the connection.
type Binder struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	observe        AcquireObserver
}

type BinderOption func(*Binder)

func WithAcquireObserver(fn AcquireObserver) BinderOption {
	return func(b *Binder) {
		b.observe = fn
	}
}

// NewBinder wraps the shared pool. acquireTimeout bounds how long a request
// waits for a free connection.
func NewBinder(pool *pgxpool.Pool, acquireTimeout time.Duration, opts ...BinderOption) *Binder {
	b := &Binder{pool: pool, acquireTimeout: acquireTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Acquire borrows a connection and binds tenantID as a session setting.
// The caller must Release the returned connection on every path.
func (b *Binder) Acquire(ctx context.Context, tenantID uuid.UUID) (*ScopedConn, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenant
	}

	conn, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, bindSessionSQL, tenantID.String()); err != nil {
		destroy(conn)
		return nil, fmt.Errorf("bind tenant: %w", err)
	}

	return &ScopedConn{conn: conn, tenantID: tenantID}, nil
}

// WithTx runs fn inside a transaction whose first statement binds tenantID
// transaction-locally. Commit or rollback both drop the binding. A panic in fn
// destroys the connection before it propagates.
func (b *Binder) WithTx(ctx context.Context, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return ErrInvalidTenant
	}

	conn, err := b.acquire(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		destroy(conn)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			rollback(tx)
			destroy(conn)
			panic(p)
		}
	}()

	if _, err := tx.Exec(ctx, bindLocalSQL, tenantID.String()); err != nil {
		rollback(tx)
		destroy(conn)
		return fmt.Errorf("bind tenant: %w", err)
	}

	if err := fn(tx); err != nil {
		if !rollback(tx) {
			destroy(conn)
			return err
		}
		release(conn)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		destroy(conn)
		return fmt.Errorf("commit transaction: %w", err)
	}

	release(conn)
	return nil
}

func (b *Binder) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, b.acquireTimeout)
	defer cancel()

	conn, err := b.pool.Acquire(acquireCtx)
	if b.observe != nil {
		b.observe(time.Since(start), err)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// ScopedConn is a pooled connection bound to one tenant. It does not expose the
// underlying connection.
type ScopedConn struct {
	conn     *pgxpool.Conn
	tenantID uuid.UUID
}

// TenantID returns the tenant the connection is bound to.
func (c *ScopedConn) TenantID() uuid.UUID {
	return c.tenantID
}

func (c *ScopedConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.conn == nil {
		return pgconn.CommandTag{}, ErrConnReleased
	}
	return c.conn.Exec(ctx, sql, args...)
}

func (c *ScopedConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.conn == nil {
		return nil, ErrConnReleased
	}
	return c.conn.Query(ctx, sql, args...)
}

func (c *ScopedConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.conn == nil {
		return errRow{err: ErrConnReleased}
	}
	return c.conn.QueryRow(ctx, sql, args...)
}

// Release clears the tenant binding and returns the connection to the pool.
// If the binding cannot be cleared the connection is closed instead. Safe to
// call more than once.
func (c *ScopedConn) Release() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, clearSQL); err != nil {
		destroy(conn)
		return
	}
	conn.Release()
}

// release clears any session binding before returning conn to the pool.
func release(conn *pgxpool.Conn) {
	sc := &ScopedConn{conn: conn}
	sc.Release()
}

// destroy removes conn from the pool and closes it so it is never reused.
func destroy(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	raw := conn.Hijack()
	_ = raw.Close(ctx)
}

// rollback aborts tx with a fresh context so a cancelled request still rolls back.
// It reports whether the rollback succeeded.
func rollback(tx pgx.Tx) bool {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := tx.Rollback(ctx)
	return err == nil || errors.Is(err, pgx.ErrTxClosed)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

var (
	_ Querier = (*ScopedConn)(nil)
	_ Querier = (pgx.Tx)(nil)
)
