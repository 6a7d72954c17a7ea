// Package main is the entrypoint for the tenantdesk API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/tenantdesk/internal/access"
	"github.com/kiranshivaraju/tenantdesk/internal/api"
	"github.com/kiranshivaraju/tenantdesk/internal/api/handler"
	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/internal/auth"
	"github.com/kiranshivaraju/tenantdesk/internal/cache"
	"github.com/kiranshivaraju/tenantdesk/internal/config"
	"github.com/kiranshivaraju/tenantdesk/internal/identity"
	"github.com/kiranshivaraju/tenantdesk/internal/metrics"
	"github.com/kiranshivaraju/tenantdesk/internal/revocation"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("env", cfg.Server.Env), zap.Bool("redis", cfg.Redis.URL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Optional revocation hint cache
	var hints cache.RevocationHints
	revocationOpts := []revocation.Option{revocation.WithLogger(logger)}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		hints = redisCache
		revocationOpts = append(revocationOpts, revocation.WithHints(redisCache))
		logger.Info("redis connected")
	}

	// 5. Access pipeline
	m := metrics.New()
	pgStore := store.NewPostgresStore(pool)
	binder := store.NewBinder(pool, cfg.Database.AcquireTimeout, store.WithAcquireObserver(m.ObserveAcquire))
	checker := revocation.NewChecker(pgStore, revocationOpts...)
	pipeline := access.NewPipeline(
		tenant.NewResolver(pgStore),
		auth.NewVerifier([]byte(cfg.JWT.Secret), cfg.JWT.Audience, cfg.JWT.Leeway),
		checker,
		access.WithLogger(logger),
		access.WithRecorder(m),
	)

	// 6. Handlers
	idp := identity.NewHTTPClient(cfg.Identity.BaseURL, cfg.Identity.APIKey, cfg.Identity.ServiceKey, cfg.Identity.Timeout)
	authH := handler.NewAuthHandler(idp, pgStore, checker, cfg.Revocation.RefreshTokenTTL, logger, m)
	tenantH := handler.NewTenantHandler(pgStore, logger)
	orderH := handler.NewOrderHandler(store.NewOrderRepository(binder), logger)

	router := api.NewRouter(api.Dependencies{
		Pipeline:       pipeline,
		Logger:         logger,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		StaticDir:      cfg.HTTP.StaticDir,

		HealthHandler:  healthHandler(pgStore, hints, idp),
		MetricsHandler: m.Handler(),

		Login:          authH.Login,
		RegisterPerson: authH.RegisterPerson,
		RegisterTenant: authH.Register,
		Refresh:        authH.Refresh,
		Logout:         authH.Logout,
		CurrentTenant:  tenantH.Current,
		UpdateTenant:   tenantH.UpdateCurrent,
		ListOrders:     orderH.List,
		CreateOrder:    orderH.Create,
	})

	// 7. Start HTTP server and the revocation sweeper
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return revocation.NewSweeper(checker, cfg.Revocation.SweepInterval, logger, m.AddSwept).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	return zc.Build()
}

// identityProbe is the readiness half of identity.Client.
type identityProbe interface {
	Ready(ctx context.Context) error
}

// healthHandler checks database, identity platform and, when configured,
// cache connectivity.
func healthHandler(s store.Store, hints cache.RevocationHints, idp identityProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"identity": "ok",
			"cache":    "disabled",
		}

		degraded := false
		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
			degraded = true
		}
		if err := idp.Ready(r.Context()); err != nil {
			checks["identity"] = "degraded"
			degraded = true
		}
		if hints != nil {
			checks["cache"] = "ok"
			if err := hints.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
