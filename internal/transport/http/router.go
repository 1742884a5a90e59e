package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tskeyd/internal/config"
	"tskeyd/internal/middleware"
	"tskeyd/internal/services"
	"tskeyd/internal/store"
)

// RouterDeps carries everything the router needs.
type RouterDeps struct {
	Config  *config.Config
	Service *services.LicenseService
	Store   store.Store
	Logger  *slog.Logger
	OTel    *middleware.OTelMiddleware
	Metrics http.Handler
}

// NewRouter assembles the middleware chain and mounts all routes.
func NewRouter(deps RouterDeps) chi.Router {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if deps.OTel != nil {
		r.Use(deps.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.Security.AllowedOrigins, deps.Logger))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	if cfg.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, deps.Logger)
		r.Use(limiter.Handler)
	}

	health := NewHealthHandler(deps.Store, deps.Logger)
	r.Get("/healthz", health.Healthz)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Mount("/license", NewLicenseHandler(deps.Service, deps.Logger).Routes())

	r.Route("/api/admin", func(ar chi.Router) {
		ar.Use(middleware.AdminGuard(middleware.AdminGuardConfig{
			KeyHash:          cfg.Security.AdminKeyHash,
			WhitelistEnabled: cfg.Security.AdminWhitelistEnabled,
			Whitelist:        cfg.Security.AdminWhitelist,
			Logger:           deps.Logger,
		}))
		ar.Mount("/", NewAdminHandler(deps.Service, deps.Logger).Routes())
	})

	return r
}
