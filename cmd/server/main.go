/*
main.go - Application entry point

PURPOSE:
  Starts the praise ledger HTTP server. Handles configuration, dependency
  injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (CONFIG_PATH YAML overlaid by environment)
  2. Build the logger
  3. Open the ledger store selected by database.driver
  4. Load the catalog file and the JWT resolver
  5. Wire ledger, services, router and audit scheduler
  6. Serve until SIGINT/SIGTERM

STORES:
  memory    Process-local, lost on exit
  sqlite    database.path (":memory:" allowed)
  postgres  database.dsn; goose migrations run when database.migrate is true

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close the store

EXAMPLES:
  # Local sqlite with defaults
  AUTH_JWT_SECRET=$(openssl rand -hex 32) ./server

  # Postgres
  DATABASE_DRIVER=postgres DATABASE_DSN=postgres://... ./server

SEE ALSO:
  - config/config.go: Every setting and its env variable
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/warp/praise-ledger/api"
	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/config"
	"github.com/warp/praise-ledger/identity"
	"github.com/warp/praise-ledger/ledger"
	"github.com/warp/praise-ledger/ledger/store"
	"github.com/warp/praise-ledger/praise"
	"github.com/warp/praise-ledger/store/postgres"
	"github.com/warp/praise-ledger/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Log)

	st, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	resolver := identity.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)

	l := ledger.New(st,
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithRetryBackoff(cfg.Ledger.RetryBackoff),
	)

	handler := api.NewHandler(l, cat, resolver, praise.Policy{PointsPerPraise: cfg.Ledger.PointsPerPraise}, logger)
	handler.HistoryPageSize = cfg.Ledger.HistoryPageSize
	handler.Auditor.Concurrency = cfg.Audit.Concurrency

	scheduler := api.NewAuditScheduler(handler.Auditor, logger)
	scheduler.CheckInterval = cfg.Audit.Interval
	scheduler.Enabled = cfg.Audit.Enabled

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.CORS),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("driver", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		scheduler.Stop()

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the configured ledger store and its cleanup.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), func() {}, nil

	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}
		return postgres.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
