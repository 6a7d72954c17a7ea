package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/identity"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthHandler(idp *fakeIdentity, tenants *fakeTenants, revoker *fakeRevoker, rec RevokeRecorder) *AuthHandler {
	return NewAuthHandler(idp, tenants, revoker, 7*24*time.Hour, nil, rec)
}

// --- Login ---

func TestLogin_ReturnsSession(t *testing.T) {
	idp := &fakeIdentity{signIn: func(email, password string) (*identity.Session, error) {
		assert.Equal(t, "ada@example.com", email)
		assert.Equal(t, "pw", password)
		return session("access-1"), nil
	}}
	h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "pw"}), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access-1", dataOf(t, rec)["access_token"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	idp := &fakeIdentity{signIn: func(string, string) (*identity.Session, error) {
		return nil, identity.ErrInvalidCredentials
	}}
	h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "bad"}), nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestLogin_ValidationFailed(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestLogin_IdentityPlatformErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"timeout", identity.ErrPlatformTimeout, http.StatusGatewayTimeout, "IDENTITY_TIMEOUT"},
		{"unavailable", identity.ErrPlatformUnavailable, http.StatusBadGateway, "IDENTITY_UNAVAILABLE"},
		{"rejected", identity.ErrRejected, http.StatusBadRequest, "IDENTITY_REJECTED"},
		{"unclassified", errors.New("boom"), http.StatusBadGateway, "IDENTITY_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &fakeIdentity{signIn: func(string, string) (*identity.Session, error) { return nil, tt.err }}
			h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

			rec := httptest.NewRecorder()
			h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "pw"}), nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

// --- RegisterPerson ---

func TestRegisterPerson_Created(t *testing.T) {
	idp := &fakeIdentity{signUp: func(string, string) (*identity.Session, error) { return session("pending-1"), nil }}
	h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.RegisterPerson(rec, jsonRequest(t, http.MethodPost, "/api/auth/register-person", map[string]string{"email": "ada@example.com", "password": "long-enough"}), nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending-1", dataOf(t, rec)["access_token"])
}

func TestRegisterPerson_ShortPassword(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.RegisterPerson(rec, jsonRequest(t, http.MethodPost, "/api/auth/register-person", map[string]string{"email": "ada@example.com", "password": "short"}), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestRegisterPerson_UserExists(t *testing.T) {
	idp := &fakeIdentity{signUp: func(string, string) (*identity.Session, error) { return nil, identity.ErrUserExists }}
	h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.RegisterPerson(rec, jsonRequest(t, http.MethodPost, "/api/auth/register-person", map[string]string{"email": "ada@example.com", "password": "long-enough"}), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USER_EXISTS", errorCode(t, rec))
}

// --- Register (tenant) ---

func TestRegister_CreatesTenantAndAssignsAdmin(t *testing.T) {
	var assigned struct {
		user     string
		tenantID uuid.UUID
		role     string
	}
	idp := &fakeIdentity{
		setMembership: func(userID string, tenantID uuid.UUID, role string) error {
			assigned.user, assigned.tenantID, assigned.role = userID, tenantID, role
			return nil
		},
		refresh: func(token string) (*identity.Session, error) {
			assert.Equal(t, "refresh-pending", token)
			return session("member-1"), nil
		},
	}
	tenants := newFakeTenants()
	h := newAuthHandler(idp, tenants, newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name":          "Acme",
		"subdomain":     "acme",
		"settings":      map[string]any{"plan": "pro"},
		"refresh_token": "refresh-pending",
	}), pendingContext())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	tenantBody := data["tenant"].(map[string]any)
	assert.Equal(t, "acme", tenantBody["subdomain"])
	assert.Equal(t, true, tenantBody["is_active"])
	assert.Equal(t, "member-1", data["session"].(map[string]any)["access_token"])

	assert.Equal(t, "user-1", assigned.user)
	assert.Equal(t, auth.RoleAdmin, assigned.role)
	assert.Equal(t, tenantBody["id"], assigned.tenantID.String())

	stored, err := tenants.GetTenant(t.Context(), assigned.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Name)
}

func TestRegister_NoRefreshTokenOmitsSession(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	require.Equal(t, http.StatusCreated, rec.Code)
	_, hasSession := dataOf(t, rec)["session"]
	assert.False(t, hasSession)
}

func TestRegister_MemberRejected(t *testing.T) {
	existing := activeTenant("old")
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(existing), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), memberContext(existing, auth.RoleAdmin))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_MEMBER", errorCode(t, rec))
}

func TestRegister_SubdomainTaken(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(activeTenant("acme")), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SUBDOMAIN_TAKEN", errorCode(t, rec))
}

func TestRegister_SubdomainCheckedBeforeInsert(t *testing.T) {
	tenants := newFakeTenants(activeTenant("acme"))
	tenants.createErr = errors.New("insert must not run")
	h := newAuthHandler(&fakeIdentity{}, tenants, newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SUBDOMAIN_TAKEN", errorCode(t, rec))
}

func TestRegister_SubdomainLookupFailure(t *testing.T) {
	tenants := newFakeTenants()
	tenants.lookupErr = errors.New("connection reset")
	h := newAuthHandler(&fakeIdentity{}, tenants, newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestRegister_InvalidSubdomain(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	for _, sub := range []string{"Acme", "-acme", "acme--corp", "acme_corp"} {
		rec := httptest.NewRecorder()
		h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": sub}), pendingContext())
		assert.Equal(t, http.StatusBadRequest, rec.Code, sub)
	}
}

func TestRegister_SettingsMustBeObject(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme", "settings": []int{1}}), pendingContext())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestRegister_MembershipFailureDeactivatesTenant(t *testing.T) {
	var created uuid.UUID
	idp := &fakeIdentity{setMembership: func(_ string, tenantID uuid.UUID, _ string) error {
		created = tenantID
		return identity.ErrPlatformUnavailable
	}}
	tenants := newFakeTenants()
	h := newAuthHandler(idp, tenants, newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	stored, err := tenants.GetTenant(t.Context(), created)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestRegister_StoreFailure(t *testing.T) {
	tenants := newFakeTenants()
	tenants.createErr = errors.New("connection reset")
	h := newAuthHandler(&fakeIdentity{}, tenants, newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{"name": "Acme", "subdomain": "acme"}), pendingContext())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

// --- Refresh ---

func TestRefresh_RevokedRefreshToken(t *testing.T) {
	tn := activeTenant("acme")
	revoker := newFakeRevoker()
	revoker.revoked[revokedKey{tn.ID, models.TokenKindRefresh, "stale"}] = time.Now().Add(time.Hour)
	idp := &fakeIdentity{refresh: func(string) (*identity.Session, error) {
		t.Fatal("identity platform must not be called for a revoked token")
		return nil, nil
	}}
	h := newAuthHandler(idp, newFakeTenants(tn), revoker, nil)

	ac := memberContext(tn, "member")
	ac.Claims = nil
	rec := httptest.NewRecorder()
	h.Refresh(rec, jsonRequest(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "stale"}), ac)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestRefresh_RevocationLookupFailure(t *testing.T) {
	revoker := newFakeRevoker()
	revoker.checkErr = errors.New("db down")
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), revoker, nil)

	rec := httptest.NewRecorder()
	h.Refresh(rec, jsonRequest(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "r"}), &access.Context{})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefresh_WithoutTenant(t *testing.T) {
	idp := &fakeIdentity{refresh: func(string) (*identity.Session, error) { return session("access-2"), nil }}
	h := newAuthHandler(idp, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Refresh(rec, jsonRequest(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "r"}), &access.Context{})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access-2", dataOf(t, rec)["access_token"])
}

func TestRefresh_AfterLogoutWithoutTenantHeader(t *testing.T) {
	tn := activeTenant("acme")
	revoker := newFakeRevoker()
	refreshed := false
	idp := &fakeIdentity{refresh: func(string) (*identity.Session, error) {
		refreshed = true
		return session("access-2"), nil
	}}
	h := newAuthHandler(idp, newFakeTenants(tn), revoker, &countingRecorder{})

	rec := httptest.NewRecorder()
	h.Logout(rec, jsonRequest(t, http.MethodPost, "/api/auth/logout", map[string]string{"refresh_token": "refresh-1"}), memberContext(tn, "member"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Refresh(rec, jsonRequest(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "refresh-1"}), &access.Context{})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, refreshed)
}

// --- Logout ---

func TestLogout_RevokesAccessAndRefresh(t *testing.T) {
	tn := activeTenant("acme")
	revoker := newFakeRevoker()
	counter := &countingRecorder{}
	idp := &fakeIdentity{}
	h := newAuthHandler(idp, newFakeTenants(tn), revoker, counter)

	ac := memberContext(tn, "member")
	rec := httptest.NewRecorder()
	h.Logout(rec, jsonRequest(t, http.MethodPost, "/api/auth/logout", map[string]string{"refresh_token": "refresh-1"}), ac)

	require.Equal(t, http.StatusNoContent, rec.Code)

	accessExp, ok := revoker.revoked[revokedKey{tn.ID, models.TokenKindAccess, "access-token"}]
	require.True(t, ok)
	assert.WithinDuration(t, ac.Claims.ExpiresAt, accessExp, time.Second)

	refreshExp, ok := revoker.revoked[revokedKey{tn.ID, models.TokenKindRefresh, "refresh-1"}]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), refreshExp, time.Minute)

	assert.Equal(t, []string{models.TokenKindAccess, models.TokenKindRefresh}, counter.kinds)
	assert.Equal(t, []string{"access-token"}, idp.signedOut)
}

func TestLogout_EmptyBody(t *testing.T) {
	tn := activeTenant("acme")
	revoker := newFakeRevoker()
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(tn), revoker, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req, memberContext(tn, "member"))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, revoker.revoked, 1)
}

func TestLogout_SignOutFailureIgnored(t *testing.T) {
	tn := activeTenant("acme")
	idp := &fakeIdentity{signOutErr: identity.ErrPlatformUnavailable}
	h := newAuthHandler(idp, newFakeTenants(tn), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), memberContext(tn, "member"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogout_RevokeFailure(t *testing.T) {
	tn := activeTenant("acme")
	revoker := newFakeRevoker()
	revoker.revokeErr = errors.New("insert failed")
	idp := &fakeIdentity{}
	h := newAuthHandler(idp, newFakeTenants(tn), revoker, nil)

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), memberContext(tn, "member"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, idp.signedOut)
}

func TestLogout_PendingIdentityHasNoTenant(t *testing.T) {
	h := newAuthHandler(&fakeIdentity{}, newFakeTenants(), newFakeRevoker(), nil)

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), pendingContext())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TENANT_REQUIRED", errorCode(t, rec))
}
