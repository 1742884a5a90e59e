// Package app wires configuration, logging, storage and the HTTP server
// into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tskeyd/internal/config"
	"tskeyd/internal/infrastructure"
	"tskeyd/internal/middleware"
	"tskeyd/internal/services"
	"tskeyd/internal/store"
	transport "tskeyd/internal/transport/http"
)

// Application holds the assembled server and its dependencies.
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	otel      *infrastructure.OTelProviders
	store     store.Store
	server    *http.Server
}

// NewApplication loads configuration and builds every component up to a
// ready-to-start HTTP server.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	providers, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := services.NewLicenseService(st, cfg.Security.LicenseSecret, cfg.Security.ReplayTolerance, logger)

	otelMW, err := middleware.NewOTelMiddleware(providers)
	if err != nil {
		return nil, fmt.Errorf("init request telemetry: %w", err)
	}

	router := transport.NewRouter(transport.RouterDeps{
		Config:  cfg,
		Service: svc,
		Store:   st,
		Logger:  logger,
		OTel:    otelMW,
		Metrics: providers.PrometheusHTTP,
	})

	app := &Application{
		cfg:       cfg,
		logger:    logger,
		logCloser: logCloser,
		otel:      providers,
		store:     st,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	return app, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := store.NewPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		logger.Info("connected to postgres store")
		return pg, nil
	case "memory":
		logger.Warn("using in-memory store, data will not survive a restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// Start begins serving and blocks until the listener fails or ctx is
// canceled.
func (a *Application) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Stop shuts the server down gracefully and releases resources.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down")

	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.otel.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}

// Run starts the application and waits for SIGINT or SIGTERM before
// shutting down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Stop(shutdownCtx)
}
