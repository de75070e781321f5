// Package deliveryworker hosts the webhook delivery process: it consumes
// vendor webhook jobs off the queue and performs signed HTTP delivery with
// retry, per-vendor circuit breaking, and rate limiting.
package deliveryworker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/adapters/httpsender"
	deliverypostgres "github.com/Apurer/go-commerce-orders/internal/domains/delivery/adapters/persistence/postgres"
	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/adapters/ratelimit"
	deliveryapp "github.com/Apurer/go-commerce-orders/internal/domains/delivery/application"
	orderspostgres "github.com/Apurer/go-commerce-orders/internal/domains/orders/adapters/persistence/postgres"
	outboxpostgres "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/persistence/postgres"
	outboxkafka "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/queue/kafka"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	platformkafka "github.com/Apurer/go-commerce-orders/internal/platform/kafka"
	platformobservability "github.com/Apurer/go-commerce-orders/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-commerce-orders/internal/platform/postgres"
	platformredis "github.com/Apurer/go-commerce-orders/internal/platform/redis"
)

const consumerGroup = "delivery-workers"

// Run boots the delivery worker until ctx is done.
func Run(ctx context.Context) error {
	const serviceName = "commerce-orders-delivery-worker"
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

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the delivery worker")
	}
	db, err := platformpostgres.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	vendors := deliverypostgres.NewVendorDirectory(db)
	if err := vendors.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate vendor directory: %w", err)
	}

	brokers := platformkafka.BrokersFromEnv()
	consumer := outboxkafka.NewConsumer(brokers, outboxdomain.KindVendorWebhook, consumerGroup)
	defer consumer.Close()
	publisher := outboxkafka.NewPublisher(brokers)
	defer publisher.Close()

	opts := []deliveryapp.WorkerOption{
		deliveryapp.WithLogger(logger),
		deliveryapp.WithTracer(instruments.Tracer("internal.delivery.worker")),
		deliveryapp.WithMeter(instruments.Meter("internal.delivery.worker")),
		deliveryapp.WithVendorOrderMarker(orderspostgres.NewStore(db)),
	}
	if raw := strings.TrimSpace(os.Getenv("DELIVERY_CONCURRENCY")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("DELIVERY_CONCURRENCY must be a positive integer")
		}
		opts = append(opts, deliveryapp.WithConcurrency(n))
	}
	redisClient, cleanupRedis := platformredis.ConnectFromEnv(ctx, logger)
	defer cleanupRedis()
	if redisClient != nil {
		opts = append(opts, deliveryapp.WithRateLimiter(
			ratelimit.NewRedisLimiter(redisClient, rateLimitPerSecond(), time.Second)))
	} else {
		logger.Warn("rate limiting vendors per replica only, configure REDIS_ADDR to share windows")
		opts = append(opts, deliveryapp.WithRateLimiter(
			ratelimit.NewMemoryLimiter(rateLimitPerSecond(), time.Second)))
	}

	worker := deliveryapp.NewWorker(
		consumer,
		publisher,
		outboxpostgres.NewRepository(db),
		deliverypostgres.NewEndpointStateStore(db),
		deliverypostgres.NewAttemptLog(db),
		vendors,
		httpsender.NewSender(),
		opts...,
	)
	logger.Info("delivery worker started", slog.String("group", consumerGroup))
	return worker.Run(ctx)
}

func rateLimitPerSecond() int64 {
	if raw := strings.TrimSpace(os.Getenv("DELIVERY_RATE_LIMIT_PER_SECOND")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 10
}
