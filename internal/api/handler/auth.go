package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/identity"
	"github.com/kiranshivaraju/tenantdesk/internal/revocation"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/pkg/models"
	"go.uber.org/zap"
)

// Revoker records and checks credential revocations.
type Revoker interface {
	Revoke(ctx context.Context, r revocation.Revocation) error
	IsRefreshRevoked(ctx context.Context, token string) (bool, error)
}

// RevokeRecorder counts revocations. *metrics.Metrics satisfies it.
type RevokeRecorder interface {
	IncrementRevoked(kind string)
}

type nopRevokeRecorder struct{}

func (nopRevokeRecorder) IncrementRevoked(string) {}

// AuthHandler serves the session endpoints backed by the identity platform.
type AuthHandler struct {
	identity   identity.Client
	tenants    store.TenantStore
	revoker    Revoker
	refreshTTL time.Duration
	logger     *zap.Logger
	recorder   RevokeRecorder
}

func NewAuthHandler(idp identity.Client, tenants store.TenantStore, revoker Revoker, refreshTTL time.Duration, logger *zap.Logger, recorder RevokeRecorder) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRevokeRecorder{}
	}
	return &AuthHandler{
		identity:   idp,
		tenants:    tenants,
		revoker:    revoker,
		refreshTTL: refreshTTL,
		logger:     logger,
		recorder:   recorder,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request, _ *access.Context) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.identityError(w, r, err)
		return
	}
	response.JSON(w, session)
}

// RegisterPerson handles POST /api/auth/register-person. The new identity
// holds the pending role until it creates or joins a tenant.
func (h *AuthHandler) RegisterPerson(w http.ResponseWriter, r *http.Request, _ *access.Context) {
	var req signUpRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.identity.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.identityError(w, r, err)
		return
	}
	response.Created(w, session)
}

type registerTenantRequest struct {
	Name         string          `json:"name" validate:"required,min=1,max=255"`
	Subdomain    string          `json:"subdomain" validate:"required,subdomain"`
	Settings     json.RawMessage `json:"settings,omitempty" validate:"omitempty,jsonobject"`
	RefreshToken string          `json:"refresh_token,omitempty"`
}

type registerTenantResponse struct {
	Tenant  *models.Tenant    `json:"tenant"`
	Session *identity.Session `json:"session,omitempty"`
}

// Register handles POST /api/auth/register: a pending identity creates a
// tenant and becomes its admin. When a refresh token is supplied the response
// carries a session whose claims name the new tenant.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	if !ac.Claims.IsPending() {
		response.Error(w, http.StatusConflict, "ALREADY_MEMBER", "Identity already belongs to a tenant", nil)
		return
	}

	var req registerTenantRequest
	if !decode(w, r, &req) {
		return
	}

	switch _, err := h.tenants.GetTenantBySubdomain(r.Context(), req.Subdomain); {
	case err == nil:
		response.Error(w, http.StatusConflict, "SUBDOMAIN_TAKEN", "Subdomain is already in use", nil)
		return
	case !errors.Is(err, store.ErrNotFound):
		h.logger.Error("subdomain lookup failed", zap.Error(err))
		access.WriteError(w, access.Internal(err))
		return
	}

	now := time.Now().UTC()
	t := &models.Tenant{
		ID:        uuid.New(),
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Settings:  req.Settings,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.tenants.CreateTenant(r.Context(), t); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "SUBDOMAIN_TAKEN", "Subdomain is already in use", nil)
			return
		}
		h.logger.Error("create tenant failed", zap.Error(err))
		access.WriteError(w, access.Internal(err))
		return
	}

	if err := h.identity.SetMembership(r.Context(), ac.Claims.Subject, t.ID, auth.RoleAdmin); err != nil {
		h.logger.Error("assign tenant membership failed",
			zap.String("tenant_id", t.ID.String()),
			zap.String("user_id", ac.Claims.Subject),
			zap.Error(err))
		// Nobody can reach a tenant without a member; park it inactive.
		if _, derr := h.tenants.UpdateTenant(context.WithoutCancel(r.Context()), t.ID, store.WithActive(false)); derr != nil {
			h.logger.Error("deactivate orphaned tenant failed", zap.String("tenant_id", t.ID.String()), zap.Error(derr))
		}
		h.identityError(w, r, err)
		return
	}

	out := registerTenantResponse{Tenant: t}
	if req.RefreshToken != "" {
		session, err := h.identity.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			h.logger.Warn("refresh after tenant creation failed", zap.Error(err))
		} else {
			out.Session = session
		}
	}

	h.logger.Info("tenant created",
		zap.String("tenant_id", t.ID.String()),
		zap.String("subdomain", t.Subdomain))
	response.Created(w, out)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh handles POST /api/auth/refresh. The refresh token is checked
// against the denylist of every tenant, with or without a tenant header.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request, _ *access.Context) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	revoked, err := h.revoker.IsRefreshRevoked(r.Context(), req.RefreshToken)
	if err != nil {
		h.logger.Error("refresh revocation lookup failed", zap.Error(err))
		access.WriteError(w, access.Internal(err))
		return
	}
	if revoked {
		access.WriteError(w, access.Unauthorized(nil))
		return
	}

	session, err := h.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.identityError(w, r, err)
		return
	}
	response.JSON(w, session)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Logout handles POST /api/auth/logout. The current access token is revoked
// until it expires, the optional refresh token for the refresh lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, ac *access.Context) {
	var req logoutRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	tenantID, ok := ac.TenantID()
	if !ok {
		response.Error(w, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required", nil)
		return
	}

	err := h.revoker.Revoke(r.Context(), revocation.Revocation{
		Token:     ac.Token,
		Kind:      models.TokenKindAccess,
		UserID:    ac.Claims.Subject,
		TenantID:  tenantID,
		ExpiresAt: ac.Claims.ExpiresAt,
	})
	if err != nil {
		h.logger.Error("revoke access token failed", zap.Error(err))
		access.WriteError(w, access.Internal(err))
		return
	}
	h.recorder.IncrementRevoked(models.TokenKindAccess)

	if req.RefreshToken != "" {
		err := h.revoker.Revoke(r.Context(), revocation.Revocation{
			Token:     req.RefreshToken,
			Kind:      models.TokenKindRefresh,
			UserID:    ac.Claims.Subject,
			TenantID:  tenantID,
			ExpiresAt: time.Now().Add(h.refreshTTL),
		})
		if err != nil {
			h.logger.Error("revoke refresh token failed", zap.Error(err))
			access.WriteError(w, access.Internal(err))
			return
		}
		h.recorder.IncrementRevoked(models.TokenKindRefresh)
	}

	if err := h.identity.SignOut(r.Context(), ac.Token); err != nil {
		h.logger.Warn("identity platform sign-out failed", zap.Error(err))
	}

	response.NoContent(w)
}

func (h *AuthHandler) identityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, identity.ErrUserExists):
		response.Error(w, http.StatusConflict, "USER_EXISTS", "An account with this email already exists", nil)
	case errors.Is(err, identity.ErrRejected):
		response.Error(w, http.StatusBadRequest, "IDENTITY_REJECTED", "The identity platform rejected the request", nil)
	case errors.Is(err, identity.ErrPlatformTimeout):
		h.logger.Warn("identity platform timeout", zap.String("path", r.URL.Path), zap.Error(err))
		response.Error(w, http.StatusGatewayTimeout, "IDENTITY_TIMEOUT", "The identity platform did not respond in time", nil)
	default:
		h.logger.Error("identity platform error", zap.String("path", r.URL.Path), zap.Error(err))
		response.Error(w, http.StatusBadGateway, "IDENTITY_UNAVAILABLE", "The identity platform is unavailable", nil)
	}
}
