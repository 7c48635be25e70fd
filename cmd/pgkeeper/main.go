package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/riandyrn/otelchi"

	fsmadapter "github.com/neomorfeo/pgkeeper/internal/adapter/fsm"
	otelAdapter "github.com/neomorfeo/pgkeeper/internal/adapter/otel"
	"github.com/neomorfeo/pgkeeper/internal/adapter/postgres"
	riverAdapter "github.com/neomorfeo/pgkeeper/internal/adapter/river"
	"github.com/neomorfeo/pgkeeper/internal/adapter/sqlite"
	"github.com/neomorfeo/pgkeeper/internal/app"
	"github.com/neomorfeo/pgkeeper/internal/config"
	"github.com/neomorfeo/pgkeeper/internal/domain"
	"github.com/neomorfeo/pgkeeper/internal/occupancy"

	handler "github.com/neomorfeo/pgkeeper/internal/adapter/http"
)

const serviceName = "pgkeeper"

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("pgkeeper exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	providers, err := otelAdapter.Setup(ctx, otelAdapter.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, tx, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	tracedTx, err := otelAdapter.NewTracingTransactor(tx)
	if err != nil {
		return fmt.Errorf("otel transactor: %w", err)
	}

	publisher, stopPublisher, err := newPublisher(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	defer stopPublisher()

	// --- Application ---
	engine := occupancy.New(tracedTx,
		occupancy.WithMaxRetries(uint(cfg.ConflictMaxRetries)), //nolint:gosec // validated non-negative
		occupancy.WithLogger(logger),
	)
	tracedPublisher, err := otelAdapter.NewTracingPublisher(publisher)
	if err != nil {
		return fmt.Errorf("otel publisher: %w", err)
	}
	svc := app.NewTenantService(engine, tracedPublisher, fsmadapter.New())

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	if cfg.RateLimitPerMinute > 0 {
		router.Use(rateLimit(cfg.RateLimitPerMinute, logger))
	}

	api := humachi.New(router, huma.DefaultConfig(serviceName, "0.1.0"))
	handler.Register(api, svc)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pgkeeper listening", "port", cfg.Port, "store", cfg.StoreDriver,
			"docs", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

// openStore opens the instrumented database for the configured driver and
// wraps it in the matching store.
func openStore(cfg *config.Config) (*sql.DB, domain.Transactor, error) {
	dsn := cfg.DSN()
	if cfg.StoreDriver == config.DriverSQLite {
		dsn = sqlite.DSN(dsn)
	}

	db, err := otelAdapter.OpenDB(cfg.StoreDriver, dsn)
	if err != nil {
		return nil, nil, err
	}

	var tx domain.Transactor
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		tx, err = postgres.NewFromDB(db)
	default:
		tx, err = sqlite.NewFromDB(db)
	}
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, tx, nil
}

// newPublisher returns the occupancy change publisher and a function that
// stops it. On SQLite changes are queued in River on the same database; on
// PostgreSQL they are logged.
func newPublisher(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (domain.EventPublisher, func(), error) {
	if cfg.StoreDriver != config.DriverSQLite {
		return &logPublisher{logger: logger}, func() {}, nil
	}

	client, err := riverAdapter.Setup(ctx, db, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting river: %w", err)
	}

	stopRiver := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Error("river stop", "error", err)
		}
	}
	return riverAdapter.NewPublisher(client), stopRiver, nil
}

// rateLimit limits requests per client IP and logs rejected requests.
func rateLimit(perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("rate limit exceeded",
				"ip", r.RemoteAddr,
				"path", r.URL.Path,
				"method", r.Method,
			)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
}

// logPublisher writes occupancy changes to the log. It is used when no job
// queue shares the store's database.
type logPublisher struct {
	logger *slog.Logger
}

func (p *logPublisher) Publish(ctx context.Context, change domain.OccupancyChange) error {
	p.logger.InfoContext(ctx, "occupancy changed",
		"kind", string(change.Kind),
		"tenant_id", change.Tenant.ID,
		"beds", len(change.Reconciliation.Beds),
		"rooms", len(change.Reconciliation.Rooms),
	)
	return nil
}
