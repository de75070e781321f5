package application

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 50

	relayTracerName = "internal.outbox.relay"
)

// Relay promotes committed outbox rows onto the durable queue. It reads only
// the outbox: order and inventory state are never touched. A crash between
// publish and mark re-publishes the row, so consumers dedupe on the
// idempotency key.
type Relay struct {
	repo      ports.Repository
	publisher ports.Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   relayMetrics
}

// RelayOption configures the relay.
type RelayOption func(*Relay)

// WithPollInterval sets the outbox poll cadence.
func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize bounds how many rows one cycle promotes.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithTracer attaches a tracer for per-cycle spans.
func WithTracer(tracer trace.Tracer) RelayOption {
	return func(r *Relay) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMeter registers relay counters on the meter.
func WithMeter(m metric.Meter) RelayOption {
	return func(r *Relay) {
		r.metrics = newRelayMetrics(m)
	}
}

// NewRelay wires a relay over the outbox repository and queue publisher.
func NewRelay(repo ports.Repository, publisher ports.Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		repo:      repo,
		publisher: publisher,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
		tracer:    nooptrace.NewTracerProvider().Tracer(relayTracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.DispatchOnce(ctx); err != nil {
				r.logError(ctx, "outbox dispatch cycle failed", err)
			}
		}
	}
}

// DispatchOnce promotes one batch of pending rows and reports how many were
// published. When publishing fails for one vendor, the rest of that vendor's
// batch is skipped to preserve per-vendor creation order; other vendors
// proceed.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRelay.DispatchOnce")
	defer span.End()

	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	skippedVendors := map[string]bool{}
	for _, event := range events {
		partition := event.PartitionKey()
		if skippedVendors[partition] {
			continue
		}
		if err := r.publisher.Publish(ctx, ports.NewMessage(event)); err != nil {
			skippedVendors[partition] = true
			r.logError(ctx, "failed to publish outbox event", err,
				slog.String("event.id", event.ID.String()),
				slog.String("event.kind", string(event.Kind)))
			continue
		}
		if err := r.repo.MarkRelayed(ctx, event.ID); err != nil {
			// Row stays pending and will be re-published next cycle;
			// consumers collapse the duplicate on the idempotency key.
			r.logError(ctx, "failed to mark outbox event relayed", err,
				slog.String("event.id", event.ID.String()))
			continue
		}
		published++
		r.metrics.recordRelayed(ctx, string(event.Kind))
	}
	span.SetAttributes(attribute.Int("outbox.published", published))
	if r.logger != nil && published > 0 {
		r.logger.LogAttrs(ctx, slog.LevelInfo, "outbox batch relayed",
			slog.Int("published", published), slog.Int("pending", len(events)))
	}
	return published, nil
}

func (r *Relay) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if r.logger == nil {
		return
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	r.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

type relayMetrics struct {
	relayed metric.Int64Counter
}

func newRelayMetrics(m metric.Meter) relayMetrics {
	if m == nil {
		return relayMetrics{}
	}
	relayed, _ := m.Int64Counter("outbox.relay.events_relayed", metric.WithDescription("Number of outbox events promoted to the queue"))
	return relayMetrics{relayed: relayed}
}

func (m relayMetrics) recordRelayed(ctx context.Context, kind string) {
	if m.relayed != nil {
		m.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("event.kind", kind)))
	}
}
