package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

func TestEndpointStateStore_InitializesClosedCircuit(t *testing.T) {
	store := NewEndpointStateStore()
	vendorID := uuid.New()

	state, err := store.Get(context.Background(), vendorID)
	require.NoError(t, err)
	require.Equal(t, vendorID, state.VendorID)
	require.Equal(t, domain.CircuitClosed, state.Circuit)
	require.Zero(t, state.Version)
}

func TestEndpointStateStore_UpdateBumpsVersionAndDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewEndpointStateStore()
	vendorID := uuid.New()

	first, err := store.Get(ctx, vendorID)
	require.NoError(t, err)
	second, err := store.Get(ctx, vendorID)
	require.NoError(t, err)

	first.ConsecutiveFailures = 1
	require.NoError(t, store.Update(ctx, first))
	require.Equal(t, int64(1), first.Version)

	// The concurrent holder loaded version 0 and must lose.
	second.ConsecutiveFailures = 7
	require.ErrorIs(t, store.Update(ctx, second), ports.ErrVersionConflict)

	fresh, err := store.Get(ctx, vendorID)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.ConsecutiveFailures)
	require.Equal(t, int64(1), fresh.Version)
}

func TestAttemptLog_AppendsInOrder(t *testing.T) {
	ctx := context.Background()
	log := NewAttemptLog()
	eventID := uuid.New()

	for i := 1; i <= 3; i++ {
		require.NoError(t, log.Append(ctx, domain.Attempt{
			EventID: eventID,
			Number:  i,
			At:      time.Now(),
			Outcome: domain.OutcomeTransient,
		}))
	}

	attempts, err := log.ListByEvent(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for i, attempt := range attempts {
		require.Equal(t, i+1, attempt.Number)
	}

	other, err := log.ListByEvent(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestVendorDirectory_ResolvesRegisteredEndpoints(t *testing.T) {
	directory := NewVendorDirectory()
	vendorID := uuid.New()

	_, err := directory.Endpoint(context.Background(), vendorID)
	require.ErrorIs(t, err, ports.ErrVendorUnknown)

	directory.Register(vendorID, ports.Endpoint{URL: "https://vendor.example/hook", Secret: "s"})
	endpoint, err := directory.Endpoint(context.Background(), vendorID)
	require.NoError(t, err)
	require.Equal(t, "https://vendor.example/hook", endpoint.URL)
}
