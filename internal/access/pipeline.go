package access

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tenantdesk/internal/api/middleware"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/metrics"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
	"go.uber.org/zap"
)

type TenantResolver interface {
	Resolve(ctx context.Context, header, path string) (*tenant.Context, error)
}

type CredentialVerifier interface {
	Verify(authorization string) (*auth.Claims, string, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string, tenantID uuid.UUID) (bool, error)
}

// Recorder counts pipeline decisions. *metrics.Metrics satisfies it.
type Recorder interface {
	Decision(stage, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Decision(string, string) {}

// Pipeline runs the fixed access sequence ahead of every protected handler:
// tenant resolution, credential verification, tenant cross-check, and
// revocation. The first rejection ends the request.
type Pipeline struct {
	resolver    TenantResolver
	verifier    CredentialVerifier
	revocations RevocationChecker
	logger      *zap.Logger
	recorder    Recorder
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

func NewPipeline(resolver TenantResolver, verifier CredentialVerifier, revocations RevocationChecker, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:    resolver,
		verifier:    verifier,
		revocations: revocations,
		logger:      zap.NewNop(),
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit runs every stage for r. A nil error means the request may proceed
// with the returned Context.
func (p *Pipeline) Admit(r *http.Request) (*Context, error) {
	ctx := r.Context()

	tc, err := p.resolver.Resolve(ctx, r.Header.Get(tenant.Header), r.URL.Path)
	if err != nil {
		return nil, p.reject(r, metrics.StageTenant, FromResolve(err))
	}

	claims, token, err := p.verifier.Verify(r.Header.Get("Authorization"))
	if err != nil {
		return nil, p.reject(r, metrics.StageCredential, Unauthorized(err))
	}

	ac := &Context{Tenant: tc, Claims: claims, Token: token}

	// Pending identities belong to no tenant yet: nothing to cross-check and
	// no tenant to scope a revocation lookup to.
	if claims.IsPending() {
		p.recorder.Decision(metrics.StageAdmit, "pending")
		return ac, nil
	}

	if tc != nil && claims.TenantID != tc.TenantID {
		return nil, p.reject(r, metrics.StageCrossCheck,
			Forbidden("TENANT_MISMATCH", "Credential does not belong to this tenant"))
	}

	revoked, err := p.revocations.IsRevoked(ctx, token, claims.TenantID)
	if err != nil {
		return nil, p.reject(r, metrics.StageRevocation, Internal(err))
	}
	if revoked {
		return nil, p.reject(r, metrics.StageRevocation, Unauthorized(nil))
	}

	p.recorder.Decision(metrics.StageAdmit, "allow")
	return ac, nil
}

// Protect requires a verified credential before h runs.
func (p *Pipeline) Protect(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := p.Admit(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		h(w, r, ac)
	})
}

// Public runs tenant resolution only. Handlers get a Context whose Claims
// is nil and whose Tenant is nil on exempt paths without a header.
func (p *Pipeline) Public(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := p.resolver.Resolve(r.Context(), r.Header.Get(tenant.Header), r.URL.Path)
		if err != nil {
			WriteError(w, p.reject(r, metrics.StageTenant, FromResolve(err)))
			return
		}
		h(w, r, &Context{Tenant: tc})
	})
}

// RequireRole wraps h so it only runs for claims carrying one of roles.
func (p *Pipeline) RequireRole(h Handler, roles ...string) Handler {
	return func(w http.ResponseWriter, r *http.Request, ac *Context) {
		if ac.Claims == nil || !ac.Claims.HasRole(roles...) {
			WriteError(w, p.reject(r, metrics.StageRole, Forbidden("FORBIDDEN", "Insufficient permissions")))
			return
		}
		h(w, r, ac)
	}
}

// RequireMember wraps h so it only runs for identities that belong to a
// tenant. Pending identities are limited to onboarding routes.
func (p *Pipeline) RequireMember(h Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request, ac *Context) {
		if ac.Claims == nil || ac.Claims.IsPending() {
			WriteError(w, p.reject(r, metrics.StageRole, Forbidden("MEMBERSHIP_REQUIRED", "Tenant membership required")))
			return
		}
		h(w, r, ac)
	}
}

func (p *Pipeline) reject(r *http.Request, stage string, e *Error) *Error {
	p.recorder.Decision(stage, strconv.Itoa(e.Status))

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Int("status", e.Status),
		zap.String("code", e.Code),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", mw.RequestIDFrom(r.Context())),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Status >= http.StatusInternalServerError {
		p.logger.Error("access pipeline failure", fields...)
	} else {
		p.logger.Info("access denied", fields...)
	}
	return e
}
