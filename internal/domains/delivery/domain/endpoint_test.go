package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func flatPolicy(threshold int) BackoffPolicy {
	return BackoffPolicy{
		Base:             time.Second,
		Cap:              5 * time.Second,
		FailureThreshold: threshold,
		Jitter:           func(time.Duration) time.Duration { return 0 },
	}
}

func TestBackoffPolicy_DelayDoublesUpToCap(t *testing.T) {
	policy := flatPolicy(5)

	require.Equal(t, time.Second, policy.Delay(0))
	require.Equal(t, 2*time.Second, policy.Delay(1))
	require.Equal(t, 4*time.Second, policy.Delay(2))
	require.Equal(t, 5*time.Second, policy.Delay(3))
	require.Equal(t, 5*time.Second, policy.Delay(10))
}

func TestBackoffPolicy_JitterStaysWithinQuarterWindow(t *testing.T) {
	policy := BackoffPolicy{Base: 4 * time.Second, Cap: time.Minute, FailureThreshold: 5}
	for i := 0; i < 50; i++ {
		delay := policy.Delay(0)
		require.GreaterOrEqual(t, delay, 4*time.Second)
		require.Less(t, delay, 5*time.Second)
	}
}

func TestEndpointState_OpensAfterThreshold(t *testing.T) {
	policy := flatPolicy(3)
	state := NewEndpointState(uuid.New())
	now := time.Now()

	state.RecordFailure(now, policy)
	state.RecordFailure(now, policy)
	require.Equal(t, CircuitClosed, state.Circuit)
	require.True(t, state.Eligible(now))

	state.RecordFailure(now, policy)
	require.Equal(t, CircuitOpen, state.Circuit)
	require.Equal(t, 1, state.OpenedCount)
	require.Equal(t, now.Add(time.Second), state.NextRetryAt)
	require.False(t, state.Eligible(now))
	require.True(t, state.Eligible(now.Add(time.Second)))
}

func TestEndpointState_FailedTrialDoublesWindow(t *testing.T) {
	policy := flatPolicy(3)
	state := NewEndpointState(uuid.New())
	now := time.Now()
	for i := 0; i < 3; i++ {
		state.RecordFailure(now, policy)
	}

	trialTime := now.Add(time.Second)
	state.BeginTrial(trialTime)
	require.Equal(t, CircuitHalfOpen, state.Circuit)

	state.RecordFailure(trialTime, policy)
	require.Equal(t, CircuitOpen, state.Circuit)
	require.Equal(t, 2, state.OpenedCount)
	require.Equal(t, trialTime.Add(2*time.Second), state.NextRetryAt)
}

func TestEndpointState_SuccessResetsCircuit(t *testing.T) {
	policy := flatPolicy(2)
	state := NewEndpointState(uuid.New())
	now := time.Now()
	state.RecordFailure(now, policy)
	state.RecordFailure(now, policy)
	require.Equal(t, CircuitOpen, state.Circuit)

	state.RecordSuccess()
	require.Equal(t, CircuitClosed, state.Circuit)
	require.Zero(t, state.ConsecutiveFailures)
	require.Zero(t, state.OpenedCount)
	require.True(t, state.Eligible(now))
}

func TestClassify(t *testing.T) {
	require.Equal(t, OutcomeTransient, Classify(0, errors.New("connection refused")))
	require.Equal(t, OutcomeSuccess, Classify(200, nil))
	require.Equal(t, OutcomeSuccess, Classify(204, nil))
	require.Equal(t, OutcomeTransient, Classify(408, nil))
	require.Equal(t, OutcomeTransient, Classify(429, nil))
	require.Equal(t, OutcomePermanent, Classify(400, nil))
	require.Equal(t, OutcomePermanent, Classify(404, nil))
	require.Equal(t, OutcomePermanent, Classify(422, nil))
	require.Equal(t, OutcomeTransient, Classify(500, nil))
	require.Equal(t, OutcomeTransient, Classify(503, nil))
}
