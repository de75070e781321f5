package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags the outbound side effect an event describes.
type Kind string

const (
	KindVendorWebhook  Kind = "VENDOR_WEBHOOK"
	KindRewardsAccrual Kind = "REWARDS_ACCRUAL"
)

// Status enumerates the outbox lifecycle. Every event eventually reaches
// delivered or dead; nothing is silently dropped.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRelayed   Status = "relayed"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

var (
	ErrEmptyPayload      = errors.New("outbox event payload is required")
	ErrUnknownKind       = errors.New("outbox event kind is unknown")
	ErrInvalidTransition = errors.New("outbox status transition is invalid")
)

// Event is a durable record of an intended side effect, written in the same
// atomic unit as the order it belongs to.
type Event struct {
	ID             uuid.UUID
	Kind           Kind
	OrderID        uuid.UUID
	VendorID       uuid.UUID // uuid.Nil for rewards accrual
	Payload        []byte
	Status         Status
	Attempts       int
	IdempotencyKey string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// rewardsPartition groups all rewards events onto one ordered partition.
const rewardsPartition = "rewards"

// PartitionKey selects the queue partition: per-vendor for webhooks so
// relay order is preserved within a vendor, one shared partition for rewards.
func (e *Event) PartitionKey() string {
	if e.Kind == KindRewardsAccrual {
		return rewardsPartition
	}
	return e.VendorID.String()
}

// IdempotencyKey derives the deduplication key from the event's logical
// content, so re-processing the same order/kind/vendor never double-delivers.
func IdempotencyKey(orderID uuid.UUID, kind Kind, vendorID uuid.UUID) string {
	sum := sha256.Sum256([]byte(orderID.String() + "|" + string(kind) + "|" + vendorID.String()))
	return hex.EncodeToString(sum[:])
}

func newEvent(kind Kind, orderID, vendorID uuid.UUID, payload []byte) (*Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	now := time.Now().UTC()
	return &Event{
		ID:             uuid.New(),
		Kind:           kind,
		OrderID:        orderID,
		VendorID:       vendorID,
		Payload:        payload,
		Status:         StatusPending,
		IdempotencyKey: IdempotencyKey(orderID, kind, vendorID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRelayed || next == StatusDead
	case StatusRelayed:
		return next == StatusDelivered || next == StatusDead
	default:
		return false
	}
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRelayed, StatusDelivered, StatusDead:
		return true
	default:
		return false
	}
}

// Terminal reports whether the event can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusDead
}

// ParseKind validates a raw kind string, typically read off the queue.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	switch kind {
	case KindVendorWebhook, KindRewardsAccrual:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}
