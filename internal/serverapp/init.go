package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"relq/internal/dbexec"
	"relq/internal/schema"
	"relq/internal/server"
	"relq/internal/store"
)

// Init initializes all runtime resources. It is idempotent. On failure every
// resource acquired so far is released.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	// Entity configuration errors surface before any connection is made.
	entities, err := schema.Build(a.cfg.Entities)
	if err != nil {
		return fmt.Errorf("invalid entity configuration: %w", err)
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", string(a.dialect)),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.EffectivePort()),
		slog.String("database", a.cfg.Database.DatabaseName()),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger, a.dialect)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.dialect); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	st := store.New(dbexec.NewStandardExecutor(db), a.dialect, entities)
	router := server.New(server.Options{
		Source:             st,
		Pinger:             db,
		Logger:             a.logger,
		Metrics:            metrics,
		MetricsHandler:     metricsHandler(a.cfg, meterProvider),
		DefaultLimit:       a.cfg.Server.DefaultLimit,
		MaxLimit:           a.cfg.Server.MaxLimit,
		MaxIncludeDepth:    a.cfg.Server.MaxIncludeDepth,
		HealthCheckTimeout: a.cfg.Server.HealthCheckTimeout,
		LoaderOptions:      loaderOptions(a.cfg, metrics),
	})
	handler := wrapHTTPHandler(a.cfg, a.logger, router)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("entities loaded", slog.Int("count", len(entities.Entities())))

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.store = st
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
