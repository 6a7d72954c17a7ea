package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/identity"
	"github.com/kiranshivaraju/tenantdesk/internal/revocation"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- identity platform ---

type fakeIdentity struct {
	signIn        func(email, password string) (*identity.Session, error)
	signUp        func(email, password string) (*identity.Session, error)
	refresh       func(token string) (*identity.Session, error)
	setMembership func(userID string, tenantID uuid.UUID, role string) error
	signOutErr    error
	signedOut     []string
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (*identity.Session, error) {
	return f.signIn(email, password)
}

func (f *fakeIdentity) SignUp(_ context.Context, email, password string) (*identity.Session, error) {
	return f.signUp(email, password)
}

func (f *fakeIdentity) Refresh(_ context.Context, token string) (*identity.Session, error) {
	return f.refresh(token)
}

func (f *fakeIdentity) SetMembership(_ context.Context, userID string, tenantID uuid.UUID, role string) error {
	if f.setMembership == nil {
		return nil
	}
	return f.setMembership(userID, tenantID, role)
}

func (f *fakeIdentity) SignOut(_ context.Context, token string) error {
	f.signedOut = append(f.signedOut, token)
	return f.signOutErr
}

func (f *fakeIdentity) Ready(context.Context) error { return nil }

func session(access string) *identity.Session {
	return &identity.Session{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		RefreshToken: "refresh-" + access,
		User:         identity.User{ID: "user-1", Email: "ada@example.com"},
	}
}

// --- tenant store ---

type fakeTenants struct {
	mu        sync.Mutex
	tenants   map[uuid.UUID]*models.Tenant
	lookupErr error
	createErr error
	updateErr error
}

func newFakeTenants(ts ...*models.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: map[uuid.UUID]*models.Tenant{}}
	for _, t := range ts {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *fakeTenants) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTenants) GetTenantBySubdomain(_ context.Context, sub string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, t := range f.tenants {
		if t.Subdomain == sub {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTenants) CreateTenant(_ context.Context, t *models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.tenants {
		if existing.Subdomain == t.Subdomain {
			return store.ErrDuplicateKey
		}
	}
	cp := *t
	f.tenants[t.ID] = &cp
	return nil
}

func (f *fakeTenants) UpdateTenant(_ context.Context, id uuid.UUID, opts ...store.TenantUpdateOption) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	store.NewTenantUpdate(opts...).Apply(&cp)
	cp.UpdatedAt = time.Now().UTC()
	f.tenants[id] = &cp
	out := cp
	return &out, nil
}

// --- revoker ---

type revokedKey struct {
	tenantID uuid.UUID
	kind     string
	token    string
}

type fakeRevoker struct {
	revoked   map[revokedKey]time.Time
	revokeErr error
	checkErr  error
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: map[revokedKey]time.Time{}}
}

func (f *fakeRevoker) Revoke(_ context.Context, r revocation.Revocation) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked[revokedKey{r.TenantID, r.Kind, r.Token}] = r.ExpiresAt
	return nil
}

func (f *fakeRevoker) IsRefreshRevoked(_ context.Context, token string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	for k := range f.revoked {
		if k.kind == models.TokenKindRefresh && k.token == token {
			return true, nil
		}
	}
	return false, nil
}

type countingRecorder struct{ kinds []string }

func (c *countingRecorder) IncrementRevoked(kind string) { c.kinds = append(c.kinds, kind) }

// --- orders ---

type fakeOrders struct {
	byTenant  map[uuid.UUID][]*models.Order
	listErr   error
	createErr error
	lastLimit int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byTenant: map[uuid.UUID][]*models.Order{}}
}

func (f *fakeOrders) List(_ context.Context, tenantID uuid.UUID, limit int) ([]*models.Order, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.byTenant[tenantID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOrders) Create(_ context.Context, tenantID uuid.UUID, o *models.Order) (*models.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *o
	cp.TenantID = tenantID
	f.byTenant[tenantID] = append(f.byTenant[tenantID], &cp)
	return &cp, nil
}

// --- helpers ---

func activeTenant(sub string) *models.Tenant {
	now := time.Now().UTC()
	return &models.Tenant{ID: uuid.New(), Name: "Tenant " + sub, Subdomain: sub, IsActive: true, CreatedAt: now, UpdatedAt: now}
}

func memberContext(t *models.Tenant, role string) *access.Context {
	now := time.Now()
	return &access.Context{
		Tenant: &tenant.Context{TenantID: t.ID, Tenant: t},
		Claims: &auth.Claims{Subject: "user-1", TenantID: t.ID, Role: role, IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		Token:  "access-token",
	}
}

func pendingContext() *access.Context {
	now := time.Now()
	return &access.Context{
		Claims: &auth.Claims{Subject: "user-1", Role: auth.RolePending, IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		Token:  "pending-token",
	}
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Error.Code
}
