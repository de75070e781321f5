package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	deliverydomain "github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	outboxports "github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
	"github.com/Apurer/go-commerce-orders/internal/domains/rewards/ports"
)

const (
	defaultMaxAttempts       = 5
	defaultConcurrency       = 4
	defaultFetchRetryBackoff = time.Second

	clientTracerName = "internal.rewards.client"
)

// Client consumes REWARDS_ACCRUAL jobs and posts them to the rewards service.
// Accrual is best-effort: exhausted retries dead-letter the event and never
// touch the Order lifecycle.
type Client struct {
	consumer  outboxports.Consumer
	publisher outboxports.Publisher
	outbox    outboxports.Repository
	sender    ports.AccrualSender

	policy       deliverydomain.BackoffPolicy
	maxAttempts  int
	concurrency  int
	fetchBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      clientMetrics
}

// ClientOption configures the accrual client.
type ClientOption func(*Client)

// WithBackoffPolicy overrides retry pacing.
func WithBackoffPolicy(policy deliverydomain.BackoffPolicy) ClientOption {
	return func(c *Client) { c.policy = policy }
}

// WithMaxAttempts bounds the retry budget before dead-lettering.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithConcurrency bounds in-flight accrual calls per process.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTracer attaches a tracer for per-job spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMeter registers accrual counters on the meter.
func WithMeter(m metric.Meter) ClientOption {
	return func(c *Client) { c.metrics = newClientMetrics(m) }
}

// NewClient wires the rewards accrual consumer.
func NewClient(
	consumer outboxports.Consumer,
	publisher outboxports.Publisher,
	outbox outboxports.Repository,
	sender ports.AccrualSender,
	opts ...ClientOption,
) *Client {
	c := &Client{
		consumer:     consumer,
		publisher:    publisher,
		outbox:       outbox,
		sender:       sender,
		policy:       deliverydomain.DefaultRewardsPolicy(),
		maxAttempts:  defaultMaxAttempts,
		concurrency:  defaultConcurrency,
		fetchBackoff: defaultFetchRetryBackoff,
		now:          time.Now,
		tracer:       nooptrace.NewTracerProvider().Tracer(clientTracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run consumes accrual jobs until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for {
		msg, err := c.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logError(ctx, "failed to fetch accrual job", err)
			// A broken reader would otherwise spin this loop hot.
			select {
			case <-time.After(c.fetchBackoff):
			case <-ctx.Done():
			}
			continue
		}
		group.Go(func() error {
			c.Process(ctx, msg)
			return nil
		})
	}
	_ = group.Wait()
	return ctx.Err()
}

// Process handles one queued accrual job end to end.
func (c *Client) Process(ctx context.Context, msg *outboxports.Message) {
	ctx, span := c.tracer.Start(ctx, "RewardsClient.Process",
		trace.WithAttributes(attribute.String("event.id", msg.EventID.String())))
	defer span.End()
	defer c.commit(ctx, msg)

	payload, err := outboxdomain.DecodeRewardsAccrual(msg.Payload)
	if err != nil {
		c.markDead(ctx, msg, fmt.Sprintf("malformed payload: %v", err))
		return
	}

	// Redeliveries of settled events collapse here; the rewards service sees
	// the idempotency key as well, so a duplicate call is also harmless.
	event, err := c.outbox.Get(ctx, msg.EventID)
	if err != nil {
		if errors.Is(err, outboxports.ErrEventNotFound) {
			c.logError(ctx, "accrual job references unknown outbox event", err,
				slog.String("event.id", msg.EventID.String()))
			return
		}
		c.requeue(ctx, msg, msg.Attempt, c.policy.Delay(msg.Attempt))
		return
	}
	if event.Status.Terminal() {
		return
	}

	result, sendErr := c.sender.Send(ctx, ports.Accrual{
		OrderID:        payload.OrderID,
		CustomerID:     payload.CustomerID,
		Amount:         payload.Amount,
		IdempotencyKey: msg.IdempotencyKey,
		OccurredAt:     payload.OccurredAt,
	})

	attemptNumber := msg.Attempt + 1
	statusCode := 0
	if result != nil {
		statusCode = result.StatusCode
	}
	outcome := deliverydomain.Classify(statusCode, sendErr)
	reason := outcomeReason(statusCode, sendErr)
	c.metrics.recordAttempt(ctx, string(outcome))

	switch outcome {
	case deliverydomain.OutcomeSuccess:
		if err := c.outbox.MarkDelivered(ctx, msg.EventID); err != nil {
			c.logError(ctx, "failed to mark accrual delivered", err, slog.String("event.id", msg.EventID.String()))
		}
		c.logInfo(ctx, "rewards accrual recorded",
			slog.String("event.id", msg.EventID.String()),
			slog.String("order.id", payload.OrderID.String()),
			slog.Int("attempt", attemptNumber))
	case deliverydomain.OutcomePermanent:
		c.markDead(ctx, msg, reason)
	default:
		if err := c.outbox.RecordFailure(ctx, msg.EventID, reason); err != nil {
			c.logError(ctx, "failed to record accrual failure", err, slog.String("event.id", msg.EventID.String()))
		}
		if attemptNumber >= c.maxAttempts {
			c.markDead(ctx, msg, fmt.Sprintf("retries exhausted after %d attempts: %s", attemptNumber, reason))
			return
		}
		c.requeue(ctx, msg, attemptNumber, c.policy.Delay(attemptNumber))
	}
}

func (c *Client) requeue(ctx context.Context, msg *outboxports.Message, attempt int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	next := *msg
	next.Attempt = attempt
	next.NotBefore = c.now().Add(delay)
	if err := c.publisher.Publish(ctx, next); err != nil {
		c.logError(ctx, "failed to requeue accrual job", err, slog.String("event.id", msg.EventID.String()))
	}
}

func (c *Client) markDead(ctx context.Context, msg *outboxports.Message, reason string) {
	if err := c.outbox.MarkDead(ctx, msg.EventID, reason); err != nil {
		c.logError(ctx, "failed to dead-letter accrual", err, slog.String("event.id", msg.EventID.String()))
		return
	}
	c.metrics.recordDead(ctx)
	if c.logger != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "rewards accrual dead-lettered for operator inspection",
			slog.String("event.id", msg.EventID.String()), slog.String("reason", reason))
	}
}

func (c *Client) commit(ctx context.Context, msg *outboxports.Message) {
	if err := c.consumer.Commit(ctx, msg); err != nil {
		c.logError(ctx, "failed to commit accrual job", err, slog.String("event.id", msg.EventID.String()))
	}
}

func (c *Client) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (c *Client) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if c.logger == nil {
		return
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	c.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
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

type clientMetrics struct {
	attempts     metric.Int64Counter
	deadLettered metric.Int64Counter
}

func newClientMetrics(m metric.Meter) clientMetrics {
	if m == nil {
		return clientMetrics{}
	}
	attempts, _ := m.Int64Counter("rewards.attempts", metric.WithDescription("Rewards accrual attempts by outcome"))
	dead, _ := m.Int64Counter("rewards.dead_lettered", metric.WithDescription("Accrual events moved to the dead letter state"))
	return clientMetrics{attempts: attempts, deadLettered: dead}
}

func (m clientMetrics) recordAttempt(ctx context.Context, outcome string) {
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m clientMetrics) recordDead(ctx context.Context) {
	if m.deadLettered != nil {
		m.deadLettered.Add(ctx, 1)
	}
}
