package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
)

var (
	// ErrVersionConflict signals a lost compare-and-swap on endpoint state.
	ErrVersionConflict = errors.New("endpoint state version conflict")
	// ErrVendorUnknown indicates no endpoint is registered for the vendor.
	ErrVendorUnknown = errors.New("vendor endpoint not registered")
)

// EndpointStateStore holds the durable per-vendor circuit rows. Updates are
// conditional on the loaded version so concurrent workers never clobber each
// other.
type EndpointStateStore interface {
	// Get returns the vendor's state, initializing a closed circuit on first use.
	Get(ctx context.Context, vendorID uuid.UUID) (*domain.EndpointState, error)
	// Update persists the state if state.Version still matches the stored row,
	// bumping the version on success; otherwise ErrVersionConflict.
	Update(ctx context.Context, state *domain.EndpointState) error
}

// AttemptLog is the append-only delivery audit trail.
type AttemptLog interface {
	Append(ctx context.Context, attempt domain.Attempt) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Attempt, error)
}

// Endpoint is a vendor's registered webhook destination and signing secret.
type Endpoint struct {
	URL    string
	Secret string
}

// VendorDirectory resolves registered endpoints per vendor.
type VendorDirectory interface {
	Endpoint(ctx context.Context, vendorID uuid.UUID) (*Endpoint, error)
}

// Delivery is one outbound webhook payload with its deduplication key.
type Delivery struct {
	IdempotencyKey string
	Payload        []byte
}

// Result captures the receiver's response to one attempt.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// WebhookSender performs the signed HTTP delivery. A transport failure comes
// back as a non-nil error; an HTTP response of any status is a Result.
type WebhookSender interface {
	Deliver(ctx context.Context, endpoint Endpoint, delivery Delivery) (*Result, error)
}

// RateLimiter gates attempts per vendor. A denied attempt is rescheduled
// after retryAfter, never recorded as a failure.
type RateLimiter interface {
	Allow(ctx context.Context, vendorID uuid.UUID) (allowed bool, retryAfter time.Duration, err error)
}
