package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/kiranshivaraju/tenantdesk/internal/access"
	mw "github.com/kiranshivaraju/tenantdesk/internal/api/middleware"
	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
	"go.uber.org/zap"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Pipeline *access.Pipeline
	Logger   *zap.Logger

	AllowedOrigins []string
	StaticDir      string

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	Login          access.Handler
	RegisterPerson access.Handler
	RegisterTenant access.Handler
	Refresh        access.Handler
	Logout         access.Handler

	CurrentTenant access.Handler
	UpdateTenant  access.Handler

	ListOrders  access.Handler
	CreateOrder access.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := deps.Pipeline

	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	// An empty origin list would make cors allow every origin.
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenant.Header, mw.RequestIDHeader},
			ExposedHeaders:   []string{mw.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Public health check
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/login", p.Public(orNotImplementedAccess(deps.Login)))
		r.Method(http.MethodPost, "/register-person", p.Public(orNotImplementedAccess(deps.RegisterPerson)))
		r.Method(http.MethodPost, "/refresh", p.Public(orNotImplementedAccess(deps.Refresh)))

		// Exempt from the tenant header so pending identities can reach it.
		r.Method(http.MethodPost, "/register", p.Protect(orNotImplementedAccess(deps.RegisterTenant)))
		r.Method(http.MethodPost, "/logout", p.Protect(orNotImplementedAccess(deps.Logout)))
	})

	r.Route("/api/tenants", func(r chi.Router) {
		r.Method(http.MethodGet, "/current", p.Protect(p.RequireMember(orNotImplementedAccess(deps.CurrentTenant))))
		r.Method(http.MethodPatch, "/current", p.Protect(p.RequireRole(orNotImplementedAccess(deps.UpdateTenant), auth.RoleAdmin)))
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Method(http.MethodGet, "/", p.Protect(p.RequireMember(orNotImplementedAccess(deps.ListOrders))))
		r.Method(http.MethodPost, "/", p.Protect(p.RequireMember(orNotImplementedAccess(deps.CreateOrder))))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	var static http.Handler
	if deps.StaticDir != "" {
		static = newStaticHandler(deps.StaticDir)
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if static != nil && !isAPIPath(req.URL.Path) && (req.Method == http.MethodGet || req.Method == http.MethodHead) {
			static.ServeHTTP(w, req)
			return
		}
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		notImplemented(w)
	}
}

func orNotImplementedAccess(h access.Handler) access.Handler {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, _ *http.Request, _ *access.Context) {
		notImplemented(w)
	}
}

func notImplemented(w http.ResponseWriter) {
	response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
}
