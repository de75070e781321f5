package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	outboxports "github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

const (
	defaultMaxAttempts       = 10
	defaultConcurrency       = 8
	defaultStateCASRetries   = 3
	defaultFetchRetryBackoff = time.Second

	workerTracerName = "internal.delivery.worker"
)

// VendorOrderMarker records a delivered vendor notification on the order side.
type VendorOrderMarker interface {
	MarkVendorNotified(ctx context.Context, orderID, vendorID uuid.UUID) error
}

// Worker consumes VENDOR_WEBHOOK jobs and performs signed HTTP delivery with
// retry, backoff, per-vendor circuit state, and rate limiting. Failures here
// never touch the Order lifecycle.
type Worker struct {
	consumer  outboxports.Consumer
	publisher outboxports.Publisher
	outbox    outboxports.Repository
	states    ports.EndpointStateStore
	attempts  ports.AttemptLog
	vendors   ports.VendorDirectory
	sender    ports.WebhookSender
	limiter   ports.RateLimiter
	orders    VendorOrderMarker

	policy       domain.BackoffPolicy
	maxAttempts  int
	concurrency  int
	fetchBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      workerMetrics
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithBackoffPolicy overrides retry pacing and circuit thresholds.
func WithBackoffPolicy(policy domain.BackoffPolicy) WorkerOption {
	return func(w *Worker) { w.policy = policy }
}

// WithMaxAttempts bounds total delivery attempts before dead-lettering.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithConcurrency bounds in-flight deliveries per process.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithRateLimiter gates attempts per vendor.
func WithRateLimiter(limiter ports.RateLimiter) WorkerOption {
	return func(w *Worker) { w.limiter = limiter }
}

// WithVendorOrderMarker records delivered notifications on the vendor split.
func WithVendorOrderMarker(marker VendorOrderMarker) WorkerOption {
	return func(w *Worker) { w.orders = marker }
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithTracer attaches a tracer for per-job spans.
func WithTracer(tracer trace.Tracer) WorkerOption {
	return func(w *Worker) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// WithMeter registers delivery counters on the meter.
func WithMeter(m metric.Meter) WorkerOption {
	return func(w *Worker) { w.metrics = newWorkerMetrics(m) }
}

// NewWorker wires the webhook delivery worker.
func NewWorker(
	consumer outboxports.Consumer,
	publisher outboxports.Publisher,
	outbox outboxports.Repository,
	states ports.EndpointStateStore,
	attempts ports.AttemptLog,
	vendors ports.VendorDirectory,
	sender ports.WebhookSender,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		consumer:     consumer,
		publisher:    publisher,
		outbox:       outbox,
		states:       states,
		attempts:     attempts,
		vendors:      vendors,
		sender:       sender,
		policy:       domain.DefaultWebhookPolicy(),
		maxAttempts:  defaultMaxAttempts,
		concurrency:  defaultConcurrency,
		fetchBackoff: defaultFetchRetryBackoff,
		now:          time.Now,
		tracer:       nooptrace.NewTracerProvider().Tracer(workerTracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run consumes jobs until ctx is done, with at most the configured number of
// deliveries in flight.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)
	for {
		msg, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logError(ctx, "failed to fetch delivery job", err)
			// A broken reader would otherwise spin this loop hot.
			select {
			case <-time.After(w.fetchBackoff):
			case <-ctx.Done():
			}
			continue
		}
		group.Go(func() error {
			w.Process(ctx, msg)
			return nil
		})
	}
	_ = group.Wait()
	return ctx.Err()
}

// Process handles one queued webhook job end to end.
func (w *Worker) Process(ctx context.Context, msg *outboxports.Message) {
	ctx, span := w.tracer.Start(ctx, "DeliveryWorker.Process",
		trace.WithAttributes(attribute.String("event.id", msg.EventID.String())))
	defer span.End()
	defer w.commit(ctx, msg)

	payload, err := outboxdomain.DecodeOrderCreated(msg.Payload)
	if err != nil {
		w.markDead(ctx, msg.EventID, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	vendorID := payload.VendorID

	// Duplicate redelivery of an already-settled event collapses here; this
	// is what makes relay crash-recovery safe.
	event, err := w.outbox.Get(ctx, msg.EventID)
	if err != nil {
		if errors.Is(err, outboxports.ErrEventNotFound) {
			w.logError(ctx, "delivery job references unknown outbox event", err,
				slog.String("event.id", msg.EventID.String()))
			return
		}
		w.requeue(ctx, msg, w.policy.Delay(msg.Attempt))
		return
	}
	if event.Status.Terminal() {
		return
	}

	if w.limiter != nil {
		allowed, retryAfter, err := w.limiter.Allow(ctx, vendorID)
		if err != nil {
			w.logError(ctx, "rate limiter unavailable, proceeding", err,
				slog.String("vendor.id", vendorID.String()))
		} else if !allowed {
			w.requeue(ctx, msg, retryAfter)
			return
		}
	}

	state, err := w.states.Get(ctx, vendorID)
	if err != nil {
		w.logError(ctx, "failed to load endpoint state", err, slog.String("vendor.id", vendorID.String()))
		w.requeue(ctx, msg, w.policy.Delay(msg.Attempt))
		return
	}
	now := w.now()
	if !state.Eligible(now) {
		// Circuit open: defer without recording an attempt.
		w.metrics.recordCircuitSkip(ctx)
		w.requeue(ctx, msg, state.NextRetryAt.Sub(now))
		return
	}

	endpoint, err := w.vendors.Endpoint(ctx, vendorID)
	if err != nil {
		w.markDead(ctx, msg.EventID, fmt.Sprintf("no registered endpoint: %v", err))
		return
	}

	halfOpen := state.Circuit == domain.CircuitOpen
	result, sendErr := w.sender.Deliver(ctx, *endpoint, ports.Delivery{
		IdempotencyKey: msg.IdempotencyKey,
		Payload:        msg.Payload,
	})

	attemptNumber := msg.Attempt + 1
	statusCode := 0
	latency := time.Duration(0)
	if result != nil {
		statusCode = result.StatusCode
		latency = result.Latency
	}
	outcome := domain.Classify(statusCode, sendErr)
	reason := outcomeReason(statusCode, sendErr)
	if err := w.attempts.Append(ctx, domain.Attempt{
		EventID:    msg.EventID,
		Number:     attemptNumber,
		At:         w.now(),
		Outcome:    outcome,
		Reason:     reason,
		StatusCode: statusCode,
		Latency:    latency,
	}); err != nil {
		w.logError(ctx, "failed to append delivery attempt", err, slog.String("event.id", msg.EventID.String()))
	}
	w.metrics.recordAttempt(ctx, string(outcome))

	switch outcome {
	case domain.OutcomeSuccess:
		w.updateState(ctx, vendorID, func(s *domain.EndpointState) {
			s.RecordSuccess()
		})
		if err := w.outbox.MarkDelivered(ctx, msg.EventID); err != nil {
			w.logError(ctx, "failed to mark event delivered", err, slog.String("event.id", msg.EventID.String()))
		}
		if w.orders != nil {
			if err := w.orders.MarkVendorNotified(ctx, payload.OrderID, vendorID); err != nil {
				w.logError(ctx, "failed to mark vendor order notified", err,
					slog.String("order.id", payload.OrderID.String()))
			}
		}
		w.logInfo(ctx, "vendor webhook delivered",
			slog.String("event.id", msg.EventID.String()),
			slog.String("vendor.id", vendorID.String()),
			slog.Int("attempt", attemptNumber))
	case domain.OutcomePermanent:
		w.markDead(ctx, msg.EventID, reason)
	default:
		w.updateState(ctx, vendorID, func(s *domain.EndpointState) {
			if halfOpen {
				s.BeginTrial(now)
			}
			s.RecordFailure(now, w.policy)
		})
		if err := w.outbox.RecordFailure(ctx, msg.EventID, reason); err != nil {
			w.logError(ctx, "failed to record event failure", err, slog.String("event.id", msg.EventID.String()))
		}
		if attemptNumber >= w.maxAttempts {
			w.markDead(ctx, msg.EventID, fmt.Sprintf("retries exhausted after %d attempts: %s", attemptNumber, reason))
			return
		}
		delay := w.policy.Delay(attemptNumber)
		// Honor an open circuit's window when it is longer than plain backoff.
		if fresh, err := w.states.Get(ctx, vendorID); err == nil && fresh.Circuit == domain.CircuitOpen {
			if window := fresh.NextRetryAt.Sub(w.now()); window > delay {
				delay = window
			}
		}
		w.requeueAttempt(ctx, msg, attemptNumber, delay)
	}
}

// updateState applies mutate under compare-and-swap, re-reading on conflict.
func (w *Worker) updateState(ctx context.Context, vendorID uuid.UUID, mutate func(*domain.EndpointState)) {
	for i := 0; i < defaultStateCASRetries; i++ {
		state, err := w.states.Get(ctx, vendorID)
		if err != nil {
			w.logError(ctx, "failed to load endpoint state for update", err, slog.String("vendor.id", vendorID.String()))
			return
		}
		mutate(state)
		err = w.states.Update(ctx, state)
		if err == nil {
			return
		}
		if !errors.Is(err, ports.ErrVersionConflict) {
			w.logError(ctx, "failed to update endpoint state", err, slog.String("vendor.id", vendorID.String()))
			return
		}
	}
	w.logError(ctx, "gave up on endpoint state update", ports.ErrVersionConflict,
		slog.String("vendor.id", vendorID.String()))
}

func (w *Worker) requeue(ctx context.Context, msg *outboxports.Message, delay time.Duration) {
	w.requeueAttempt(ctx, msg, msg.Attempt, delay)
}

func (w *Worker) requeueAttempt(ctx context.Context, msg *outboxports.Message, attempt int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	next := *msg
	next.Attempt = attempt
	next.NotBefore = w.now().Add(delay)
	if err := w.publisher.Publish(ctx, next); err != nil {
		w.logError(ctx, "failed to requeue delivery job", err, slog.String("event.id", msg.EventID.String()))
	}
}

func (w *Worker) markDead(ctx context.Context, eventID uuid.UUID, reason string) {
	if err := w.outbox.MarkDead(ctx, eventID, reason); err != nil {
		w.logError(ctx, "failed to dead-letter event", err, slog.String("event.id", eventID.String()))
		return
	}
	w.metrics.recordDead(ctx)
	if w.logger != nil {
		w.logger.LogAttrs(ctx, slog.LevelWarn, "event dead-lettered for operator inspection",
			slog.String("event.id", eventID.String()), slog.String("reason", reason))
	}
}

func (w *Worker) commit(ctx context.Context, msg *outboxports.Message) {
	if err := w.consumer.Commit(ctx, msg); err != nil {
		w.logError(ctx, "failed to commit delivery job", err, slog.String("event.id", msg.EventID.String()))
	}
}

func (w *Worker) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if w.logger == nil {
		return
	}
	w.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (w *Worker) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if w.logger == nil {
		return
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	w.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

func outcomeReason(statusCode int, err error) string {
	if err != nil {
		return err.Error()
	}
	if statusCode >= 200 && statusCode < 300 {
		return ""
	}
	return fmt.Sprintf("http status %d", statusCode)
}

type workerMetrics struct {
	attempts     metric.Int64Counter
	deadLettered metric.Int64Counter
	circuitSkips metric.Int64Counter
}

func newWorkerMetrics(m metric.Meter) workerMetrics {
	if m == nil {
		return workerMetrics{}
	}
	attempts, _ := m.Int64Counter("delivery.attempts", metric.WithDescription("Webhook delivery attempts by outcome"))
	dead, _ := m.Int64Counter("delivery.dead_lettered", metric.WithDescription("Events moved to the dead letter state"))
	skips, _ := m.Int64Counter("delivery.circuit_skips", metric.WithDescription("Jobs deferred by an open circuit"))
	return workerMetrics{attempts: attempts, deadLettered: dead, circuitSkips: skips}
}

func (m workerMetrics) recordAttempt(ctx context.Context, outcome string) {
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m workerMetrics) recordDead(ctx context.Context) {
	if m.deadLettered != nil {
		m.deadLettered.Add(ctx, 1)
	}
}

func (m workerMetrics) recordCircuitSkip(ctx context.Context) {
	if m.circuitSkips != nil {
		m.circuitSkips.Add(ctx, 1)
	}
}
