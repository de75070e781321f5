package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Accrual is one points-accrual request derived from a completed order commit.
type Accrual struct {
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	Amount         int64
	IdempotencyKey string
	OccurredAt     time.Time
}

// Result captures the rewards service's response to one accrual call.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// AccrualSender posts an accrual to the external rewards service. A transport
// failure is a non-nil error; any HTTP response is a Result.
type AccrualSender interface {
	Send(ctx context.Context, accrual Accrual) (*Result, error)
}
