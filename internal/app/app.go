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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/studyhall/internal/console"
	"github.com/aussiebroadwan/studyhall/internal/doccache"
	"github.com/aussiebroadwan/studyhall/internal/kvstore"
	"github.com/aussiebroadwan/studyhall/internal/kvstore/drivers/file"
	"github.com/aussiebroadwan/studyhall/internal/kvstore/drivers/sqlite"
	"github.com/aussiebroadwan/studyhall/pkg/cryptox"
	"github.com/aussiebroadwan/studyhall/pkg/sessionsdk"
	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the session manager to its store, backend and console.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	kv       kvstore.Store
	api      *sessionsdk.APIClient
	registry *prometheus.Registry
	docs     *doccache.Cache

	manager *sessionsdk.Manager
	console *console.Console

	// Optional metrics endpoint
	server *http.Server
}

// New creates a new Application with every dependency initialized. in and out
// are the console streams; logs go to stderr.
func New(cfg Config, in io.Reader, out io.Writer) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "studyhall",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: prometheus.NewRegistry(),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	docs, err := doccache.New(cfg.DocCacheSize)
	if err != nil {
		_ = app.kv.Close()
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}
	app.docs = docs

	if err := app.initSession(in, out); err != nil {
		_ = app.kv.Close()
		return nil, err
	}
	app.initMetrics()

	return app, nil
}

// Run resumes any persisted session and blocks until the console exits or a
// shutdown signal arrives.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.kv.Ping(ctx); err != nil {
		return fmt.Errorf("session store unavailable: %w", err)
	}

	if err := app.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to resume session: %w", err)
	}

	app.logger.Info("studyhall starting", "version", BuildVersion, "store", app.cfg.StoreDriver)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := app.console.Run(gctx)
		stop() // console exit ends the run
		return err
	})

	if app.server != nil {
		g.Go(func() error {
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	if watcher, ok := app.kv.(*file.Store); ok {
		g.Go(func() error {
			return watcher.Watch(gctx, sessionsdk.KeyRecord, app.logger, func() {
				if err := app.manager.Resync(gctx); err != nil {
					app.logger.Error("failed to resync session", "error", err)
				}
			})
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		app.logger.Info("shutdown requested")
	}
	app.stopMetricsServer()

	runErr := g.Wait()
	if err := app.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown suspends the session, gives the end-session beacon a chance to be
// delivered, and releases resources. The persisted session survives.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down studyhall...")

	app.manager.Teardown()
	if !app.api.DrainBeacons(app.cfg.ShutdownGracePeriod) {
		app.logger.Warn("end-session beacon still in flight at exit")
	}

	app.stopMetricsServer()

	if err := app.kv.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("studyhall stopped")
	return nil
}

func (app *Application) stopMetricsServer() {
	if app.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful metrics server shutdown failed", "error", err)
		_ = app.server.Close()
	}
}

// initStore opens the configured KV driver and applies migrations.
func (app *Application) initStore() error {
	switch app.cfg.StoreDriver {
	case kvstore.DriverMemory:
		app.kv = kvstore.NewMemory()
		app.logger.Warn("using in-memory store, sessions will not survive a restart")

	case kvstore.DriverFile:
		store, err := file.NewStore(app.cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to initialize file store: %w", err)
		}
		app.kv = store

	case kvstore.DriverSQLite:
		store, err := sqlite.NewStore(sqlite.DSN(app.cfg.StorePath))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := store.ApplyMigrations(); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.kv = store
		app.logger.Info("database migrations applied successfully")

	default:
		return fmt.Errorf("unknown store driver %q", app.cfg.StoreDriver)
	}

	return nil
}

// initSession builds the backend client, the session store and the manager.
func (app *Application) initSession(in io.Reader, out io.Writer) error {
	storeOpts := []sessionsdk.StoreOption{sessionsdk.WithStoreLogger(app.logger)}
	if app.cfg.StoreSealKey != "" {
		sealer, err := cryptox.NewSealer([]byte(app.cfg.StoreSealKey))
		if err != nil {
			return fmt.Errorf("failed to create sealer: %w", err)
		}
		storeOpts = append(storeOpts, sessionsdk.WithSealer(sealer))
	}
	store := sessionsdk.NewStore(app.kv, storeOpts...)

	app.api = sessionsdk.NewAPIClient(app.cfg.APIBaseURL)
	app.api.Logger = app.logger
	app.api.HTTPClient = &http.Client{
		Timeout:   app.cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(slogx.NewTransport(http.DefaultTransport, app.logger)),
	}

	var limiter *rate.Limiter
	if n := app.cfg.LoginAttemptsPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}

	// OnLogout reaches the console through con, assigned once the manager
	// it drives exists.
	var con *console.Console
	app.manager = sessionsdk.NewManager(app.api, store, sessionsdk.Options{
		Timing: sessionsdk.Timing{
			TokenLifetime:           app.cfg.TokenLifetime,
			RefreshBuffer:           app.cfg.RefreshBuffer,
			InactivityTimeout:       app.cfg.InactivityTimeout,
			InactivityCheckInterval: app.cfg.InactivityCheckInterval,
			HeartbeatInterval:       app.cfg.HeartbeatInterval,
		},
		Logger:         app.logger,
		Metrics:        sessionsdk.NewMetrics(app.registry),
		Caches:         []sessionsdk.Purger{app.docs},
		LoginLimiter:   limiter,
		RefreshRetries: app.cfg.RefreshRetries,
		OnLogout: func(reason sessionsdk.Reason) {
			con.SessionEnded(reason)
		},
	})
	con = console.New(app.manager, app.docs, in, out, app.logger)
	app.console = con

	return nil
}

// initMetrics exposes the registry when METRICS_ADDR is set.
func (app *Application) initMetrics() {
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if app.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry}))

	app.server = &http.Server{
		Addr:              app.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
