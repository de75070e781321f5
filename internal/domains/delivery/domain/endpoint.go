package domain

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// CircuitState is the per-vendor breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// BackoffPolicy controls retry pacing and circuit behavior. The window
// doubles per consecutive open up to Cap, with random jitter so retries
// across tenants do not align.
type BackoffPolicy struct {
	Base             time.Duration
	Cap              time.Duration
	FailureThreshold int
	// Jitter returns a random duration in [0, max). Defaults to math/rand;
	// tests inject a deterministic source.
	Jitter func(max time.Duration) time.Duration
}

// DefaultWebhookPolicy paces vendor webhook retries.
func DefaultWebhookPolicy() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Cap: 5 * time.Minute, FailureThreshold: 5}
}

// DefaultRewardsPolicy uses a shorter cap: rewards accrual is best-effort,
// not order-critical.
func DefaultRewardsPolicy() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Cap: 30 * time.Second, FailureThreshold: 5}
}

// Delay returns the backoff before retry n (0-based): min(Base*2^n, Cap)
// plus jitter of up to a quarter of that window.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.Cap > 0 && delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if p.Cap > 0 && delay > p.Cap {
		delay = p.Cap
	}
	return delay + p.jitter(delay/4)
}

func (p BackoffPolicy) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(max)
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// EndpointState is the durable per-vendor circuit row. Workers update it via
// compare-and-swap on Version, so concurrent workers touching the same vendor
// stay correct.
type EndpointState struct {
	VendorID            uuid.UUID
	ConsecutiveFailures int
	Circuit             CircuitState
	OpenedCount         int
	NextRetryAt         time.Time
	Version             int64
}

// NewEndpointState starts a vendor with a closed circuit.
func NewEndpointState(vendorID uuid.UUID) *EndpointState {
	return &EndpointState{VendorID: vendorID, Circuit: CircuitClosed}
}

// Eligible reports whether a delivery attempt may proceed now. An open
// circuit whose window has elapsed admits one half-open trial.
func (s *EndpointState) Eligible(now time.Time) bool {
	switch s.Circuit {
	case CircuitOpen:
		return !now.Before(s.NextRetryAt)
	default:
		return true
	}
}

// BeginTrial moves an elapsed open circuit to half-open before the trial
// attempt. No-op for other states.
func (s *EndpointState) BeginTrial(now time.Time) {
	if s.Circuit == CircuitOpen && !now.Before(s.NextRetryAt) {
		s.Circuit = CircuitHalfOpen
	}
}

// RecordSuccess closes the circuit and resets failure accounting.
func (s *EndpointState) RecordSuccess() {
	s.ConsecutiveFailures = 0
	s.OpenedCount = 0
	s.Circuit = CircuitClosed
	s.NextRetryAt = time.Time{}
}

// RecordFailure bumps the failure count and opens the circuit when the
// threshold is crossed or a half-open trial fails. The open window doubles
// per consecutive open.
func (s *EndpointState) RecordFailure(now time.Time, policy BackoffPolicy) {
	s.ConsecutiveFailures++
	shouldOpen := s.Circuit == CircuitHalfOpen ||
		(policy.FailureThreshold > 0 && s.ConsecutiveFailures >= policy.FailureThreshold)
	if !shouldOpen {
		return
	}
	window := policy.Delay(s.OpenedCount)
	s.OpenedCount++
	s.Circuit = CircuitOpen
	s.NextRetryAt = now.Add(window)
}
