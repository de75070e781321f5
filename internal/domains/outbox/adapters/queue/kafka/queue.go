package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

const (
	headerEventID        = "event-id"
	headerKind           = "event-kind"
	headerIdempotencyKey = "idempotency-key"
	headerAttempt        = "attempt"
	headerNotBefore      = "not-before"
)

// TopicFor maps an event kind to its Kafka topic.
func TopicFor(kind domain.Kind) string {
	switch kind {
	case domain.KindRewardsAccrual:
		return "commerce.rewards-accrual"
	default:
		return "commerce.vendor-webhooks"
	}
}

var (
	_ ports.Publisher = (*Publisher)(nil)
	_ ports.Consumer  = (*Consumer)(nil)
)

// Publisher writes outbox messages onto Kafka, one topic per kind, keyed by
// partition key so per-vendor order is preserved up to the relay.
type Publisher struct {
	writers map[domain.Kind]*kafka.Writer
}

// NewPublisher builds writers for both topics against the given brokers.
func NewPublisher(brokers []string) *Publisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return &Publisher{
		writers: map[domain.Kind]*kafka.Writer{
			domain.KindVendorWebhook:  newWriter(TopicFor(domain.KindVendorWebhook)),
			domain.KindRewardsAccrual: newWriter(TopicFor(domain.KindRewardsAccrual)),
		},
	}
}

// Publish writes the message to its kind's topic.
func (p *Publisher) Publish(ctx context.Context, msg ports.Message) error {
	writer, ok := p.writers[msg.Kind]
	if !ok {
		return fmt.Errorf("no kafka writer for kind %q", msg.Kind)
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(msg.EventID.String())},
			{Key: headerKind, Value: []byte(msg.Kind)},
			{Key: headerIdempotencyKey, Value: []byte(msg.IdempotencyKey)},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(msg.Attempt))},
			{Key: headerNotBefore, Value: []byte(strconv.FormatInt(msg.NotBefore.UnixNano(), 10))},
		},
	})
}

// Close flushes and closes the underlying writers.
func (p *Publisher) Close() error {
	var firstErr error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Consumer reads one kind's topic through a consumer group. A fetched message
// whose NotBefore has not elapsed is held until eligible; per-partition this
// only delays messages behind an already-deferred one, which is acceptable
// because downstream is idempotent, not order-dependent.
type Consumer struct {
	reader *kafka.Reader

	// raw kafka messages keyed by event id + attempt, kept for commit.
	// Fetch runs on the consume loop while Commit is called from worker
	// goroutines, so the map is guarded.
	mu      sync.Mutex
	pending map[string]kafka.Message
}

// NewConsumer subscribes a consumer group to the kind's topic.
func NewConsumer(brokers []string, kind domain.Kind, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   TopicFor(kind),
			GroupID: groupID,
		}),
		pending: map[string]kafka.Message{},
	}
}

// Fetch blocks until the next eligible message or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) (*ports.Message, error) {
	raw, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		// Malformed envelope: commit and skip rather than wedging the partition.
		_ = c.reader.CommitMessages(ctx, raw)
		return nil, err
	}
	if wait := time.Until(msg.NotBefore); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.track(msg, raw)
	return msg, nil
}

// Commit acknowledges the message with the consumer group.
func (c *Consumer) Commit(ctx context.Context, msg *ports.Message) error {
	if msg == nil {
		return nil
	}
	raw, ok := c.take(msg)
	if !ok {
		return nil
	}
	return c.reader.CommitMessages(ctx, raw)
}

func (c *Consumer) track(msg *ports.Message, raw kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[commitKey(msg)] = raw
}

func (c *Consumer) take(msg *ports.Message) (kafka.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.pending[commitKey(msg)]
	if ok {
		delete(c.pending, commitKey(msg))
	}
	return raw, ok
}

// Close shuts the underlying reader down.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func commitKey(msg *ports.Message) string {
	return msg.EventID.String() + "|" + strconv.Itoa(msg.Attempt)
}

func decodeMessage(raw kafka.Message) (*ports.Message, error) {
	msg := &ports.Message{
		PartitionKey: string(raw.Key),
		Payload:      raw.Value,
	}
	for _, header := range raw.Headers {
		value := string(header.Value)
		switch header.Key {
		case headerEventID:
			id, err := uuid.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("parse event id header: %w", err)
			}
			msg.EventID = id
		case headerKind:
			kind, err := domain.ParseKind(value)
			if err != nil {
				return nil, err
			}
			msg.Kind = kind
		case headerIdempotencyKey:
			msg.IdempotencyKey = value
		case headerAttempt:
			attempt, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse attempt header: %w", err)
			}
			msg.Attempt = attempt
		case headerNotBefore:
			nanos, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse not-before header: %w", err)
			}
			if nanos > 0 {
				msg.NotBefore = time.Unix(0, nanos)
			}
		}
	}
	if msg.EventID == uuid.Nil {
		return nil, fmt.Errorf("message missing event id header")
	}
	return msg, nil
}
