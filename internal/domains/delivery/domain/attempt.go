package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a delivery attempt's result.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// Attempt is one append-only audit row of a delivery try.
type Attempt struct {
	EventID    uuid.UUID
	Number     int
	At         time.Time
	Outcome    Outcome
	Reason     string
	StatusCode int
	Latency    time.Duration
}

// Classify maps an HTTP status and transport error onto the retry taxonomy:
// transport failures and 5xx are transient, most 4xx are permanent, and 408
// and 429 are treated as transient since the receiver asked for a retry.
func Classify(statusCode int, err error) Outcome {
	if err != nil {
		return OutcomeTransient
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == 408 || statusCode == 429:
		return OutcomeTransient
	case statusCode >= 400 && statusCode < 500:
		return OutcomePermanent
	default:
		return OutcomeTransient
	}
}
