// Package relay hosts the outbox relay process: it promotes committed outbox
// rows onto the durable queue and marks them relayed.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	outboxpostgres "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/persistence/postgres"
	outboxkafka "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/queue/kafka"
	outboxapp "github.com/Apurer/go-commerce-orders/internal/domains/outbox/application"
	platformkafka "github.com/Apurer/go-commerce-orders/internal/platform/kafka"
	platformobservability "github.com/Apurer/go-commerce-orders/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-commerce-orders/internal/platform/postgres"
)

// Run boots the relay loop until ctx is done.
func Run(ctx context.Context) error {
	const serviceName = "commerce-orders-relay"
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
		return fmt.Errorf("POSTGRES_DSN is required for the relay")
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

	publisher := outboxkafka.NewPublisher(platformkafka.BrokersFromEnv())
	defer publisher.Close()

	opts := []outboxapp.RelayOption{
		outboxapp.WithLogger(logger),
		outboxapp.WithTracer(instruments.Tracer("internal.outbox.relay")),
		outboxapp.WithMeter(instruments.Meter("internal.outbox.relay")),
	}
	if raw := strings.TrimSpace(os.Getenv("RELAY_POLL_INTERVAL_MS")); raw != "" {
		millis, err := strconv.Atoi(raw)
		if err != nil || millis <= 0 {
			return fmt.Errorf("RELAY_POLL_INTERVAL_MS must be a positive integer")
		}
		opts = append(opts, outboxapp.WithPollInterval(time.Duration(millis)*time.Millisecond))
	}
	if raw := strings.TrimSpace(os.Getenv("RELAY_BATCH_SIZE")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return fmt.Errorf("RELAY_BATCH_SIZE must be a positive integer")
		}
		opts = append(opts, outboxapp.WithBatchSize(size))
	}

	relay := outboxapp.NewRelay(outboxpostgres.NewRepository(db), publisher, opts...)
	logger.Info("outbox relay started")
	return relay.Run(ctx)
}
