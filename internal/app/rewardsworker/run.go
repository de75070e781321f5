// Package rewardsworker hosts the rewards accrual process: it consumes
// accrual jobs off the queue and posts them to the external rewards service.
package rewardsworker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	outboxpostgres "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/persistence/postgres"
	outboxkafka "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/queue/kafka"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/rewards/adapters/httpclient"
	rewardsapp "github.com/Apurer/go-commerce-orders/internal/domains/rewards/application"
	platformkafka "github.com/Apurer/go-commerce-orders/internal/platform/kafka"
	platformobservability "github.com/Apurer/go-commerce-orders/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-commerce-orders/internal/platform/postgres"
)

const consumerGroup = "rewards-workers"

// Run boots the rewards accrual consumer until ctx is done.
func Run(ctx context.Context) error {
	const serviceName = "commerce-orders-rewards-worker"
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
		return fmt.Errorf("POSTGRES_DSN is required for the rewards worker")
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

	rewardsURL := strings.TrimSpace(os.Getenv("REWARDS_SERVICE_URL"))
	if rewardsURL == "" {
		return fmt.Errorf("REWARDS_SERVICE_URL is required for the rewards worker")
	}
	sender := httpclient.NewClient(rewardsURL, httpclient.WithAPIKey(os.Getenv("REWARDS_SERVICE_API_KEY")))

	brokers := platformkafka.BrokersFromEnv()
	consumer := outboxkafka.NewConsumer(brokers, outboxdomain.KindRewardsAccrual, consumerGroup)
	defer consumer.Close()
	publisher := outboxkafka.NewPublisher(brokers)
	defer publisher.Close()

	client := rewardsapp.NewClient(
		consumer,
		publisher,
		outboxpostgres.NewRepository(db),
		sender,
		rewardsapp.WithLogger(logger),
		rewardsapp.WithTracer(instruments.Tracer("internal.rewards.client")),
		rewardsapp.WithMeter(instruments.Meter("internal.rewards.client")),
	)
	logger.Info("rewards worker started", slog.String("group", consumerGroup))
	return client.Run(ctx)
}
