// Package app assembles the license server: configuration, logging,
// telemetry, the store, the domain service, and the HTTP transport.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/notify"
	"licensegate/internal/store"
	transport "licensegate/internal/transport/http"
)

const (
	Version = "1.0.0"
	AppName = "License Gate"
)

// Application is the composed license server
type Application struct {
	Config        *config.Config
	Router        chi.Router
	Server        *http.Server
	Store         *store.Store
	Service       *license.Service
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication wires the server from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the store, notifier, and domain service
func (a *Application) initializeServices() error {
	st, err := store.Open(a.Config.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open license store: %w", err)
	}
	a.Store = st

	metrics, err := infrastructure.CreateLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	notifier, err := notify.NewEmailNotifier(context.Background(), a.Config.Email, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	a.Service = license.NewService(st, a.Config.License, a.Logger,
		license.WithNotifier(notifier),
		license.WithMetrics(metrics),
	)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	handler := transport.NewLicenseHandler(a.Service, a.Logger, a.OTelProviders.Tracer)
	a.Router = transport.NewRouter(transport.RouterOptions{
		Handler:        handler,
		Logger:         a.Logger,
		Security:       a.Config.Security,
		MetricsHandler: a.OTelProviders.PrometheusHTTP,
	})
}

// createServer builds the HTTP server from the server configuration
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the HTTP listener
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) {
	a.Logger.InfoContext(ctx, "server listening",
		slog.Int("port", a.Config.Server.Port),
		slog.String("database_driver", a.Config.Database.Driver))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()
}

// Stop gracefully stops the server and flushes telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "error closing store", slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run runs the server until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.Start(ctx, cancel)

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
