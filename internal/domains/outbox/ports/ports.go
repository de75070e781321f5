package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
)

var (
	// ErrEventNotFound indicates the outbox row does not exist.
	ErrEventNotFound = errors.New("outbox event not found")
	// ErrInvalidTransition indicates a status update violated the lifecycle.
	ErrInvalidTransition = errors.New("outbox status transition rejected")
)

// Repository is the durable outbox table. The relay reads it; workers update
// terminal states. It never touches order or inventory rows.
type Repository interface {
	// ListPending returns pending events in creation order per vendor.
	ListPending(ctx context.Context, limit int) ([]*domain.Event, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	MarkRelayed(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	// MarkDead moves the event to its terminal failure state for operator
	// inspection; reason is preserved.
	MarkDead(ctx context.Context, id uuid.UUID, reason string) error
	// RecordFailure bumps the attempt counter and remembers the last error
	// without changing status.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	ListDead(ctx context.Context, limit int) ([]*domain.Event, error)
}

// Message is a queued delivery job. Attempt counts prior delivery attempts;
// NotBefore defers redelivery for backoff and circuit windows.
type Message struct {
	EventID        uuid.UUID
	Kind           domain.Kind
	PartitionKey   string
	IdempotencyKey string
	Payload        []byte
	Attempt        int
	NotBefore      time.Time
}

// NewMessage builds the first-delivery message for an outbox event.
func NewMessage(event *domain.Event) Message {
	return Message{
		EventID:        event.ID,
		Kind:           event.Kind,
		PartitionKey:   event.PartitionKey(),
		IdempotencyKey: event.IdempotencyKey,
		Payload:        event.Payload,
	}
}

// Publisher writes messages onto the durable queue. Delivery is at-least-once;
// consumers deduplicate on the idempotency key.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer reads messages off one kind's topic. Fetch blocks until a message
// is eligible (NotBefore elapsed) or ctx is done; Commit acknowledges it.
type Consumer interface {
	Fetch(ctx context.Context) (*Message, error)
	Commit(ctx context.Context, msg *Message) error
}
