package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	ordersmemory "github.com/Apurer/go-commerce-orders/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/go-commerce-orders/internal/domains/orders/adapters/observability"
	orderspostgres "github.com/Apurer/go-commerce-orders/internal/domains/orders/adapters/persistence/postgres"
	ordersapp "github.com/Apurer/go-commerce-orders/internal/domains/orders/application"
	ordersports "github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxmemory "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/memory"
	outboxpostgres "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/persistence/postgres"
	outboxports "github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
	"github.com/Apurer/go-commerce-orders/internal/platform/migrations"
	platformobservability "github.com/Apurer/go-commerce-orders/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-commerce-orders/internal/platform/postgres"
)

// Run boots the order HTTP API with observability and persistence wired.
func Run(ctx context.Context) error {
	const serviceName = "commerce-orders-api"
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	store, outboxRepo, cleanup := buildStores(ctx, cfg, logger)
	defer cleanup()

	coordinator := ordersapp.NewService(store, ordersapp.WithConflictRetries(cfg.ConflictRetries))
	orderService := ordersobs.New(
		coordinator,
		ordersobs.WithLogger(logger),
		ordersobs.WithTracer(instruments.Tracer("internal.orders.application")),
		ordersobs.WithMeter(instruments.Meter("internal.orders.application")),
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	NewHandlers(orderService, outboxRepo, cfg).Register(router)

	addr := ":" + cfg.Port
	logger.Info("order API listening", slog.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Error("order API server exited", slog.String("addr", addr), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// buildStores wires Postgres-backed stores, falling back to the in-memory
// pair when no DSN is configured. Both sides share one outbox so commits and
// dead-letter reads observe the same rows.
func buildStores(ctx context.Context, cfg Config, logger *slog.Logger) (ordersports.Store, outboxports.Repository, func()) {
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set, falling back to in-memory stores")
		repo := outboxmemory.NewRepository()
		return ordersmemory.NewStore(repo), repo, func() {}
	}
	db, err := platformpostgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Warn("failed to connect to postgres, falling back to in-memory stores", slog.String("error", err.Error()))
		repo := outboxmemory.NewRepository()
		return ordersmemory.NewStore(repo), repo, func() {}
	}
	if err := migrations.Run(db); err != nil {
		logger.Warn("failed to run migrations, falling back to in-memory stores", slog.String("error", err.Error()))
		repo := outboxmemory.NewRepository()
		return ordersmemory.NewStore(repo), repo, func() {}
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("failed to unwrap postgres connection, falling back to in-memory stores", slog.String("error", err.Error()))
		repo := outboxmemory.NewRepository()
		return ordersmemory.NewStore(repo), repo, func() {}
	}
	logger.Info("order store configured with postgres")
	return orderspostgres.NewStore(db), outboxpostgres.NewRepository(db), func() { _ = sqlDB.Close() }
}
