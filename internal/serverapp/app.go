// Package serverapp wires configuration, telemetry, the database and the HTTP
// server into one lifecycle: New, Init, Start, WaitForStop, Shutdown.
package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"relq/internal/config"
	"relq/internal/logging"
	"relq/internal/observability"
	"relq/internal/sqlutil"
	"relq/internal/store"
)

// App owns runtime resources for the relq server lifecycle.
type App struct {
	cfg     *config.Config
	logger  *logging.Logger
	dialect sqlutil.Dialect

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	metrics        *observability.LoaderMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	store      *store.Store

	handler    http.Handler
	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database dialect: %w", err)
	}
	return &App{cfg: cfg, logger: logger, dialect: dialect}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the instrumented HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
