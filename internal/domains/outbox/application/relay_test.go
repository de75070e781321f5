package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/memory"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

type fakePublisher struct {
	published []ports.Message
	failKeys  map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failKeys: map[string]bool{}}
}

func (f *fakePublisher) Publish(_ context.Context, msg ports.Message) error {
	if f.failKeys[msg.PartitionKey] {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, msg)
	return nil
}

type markRelayedFailingRepo struct {
	*memory.Repository
	failures int
}

func (r *markRelayedFailingRepo) MarkRelayed(ctx context.Context, id uuid.UUID) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("database unavailable")
	}
	return r.Repository.MarkRelayed(ctx, id)
}

func pendingEvent(orderID, vendorID uuid.UUID, createdAt time.Time) *domain.Event {
	return &domain.Event{
		ID:             uuid.New(),
		Kind:           domain.KindVendorWebhook,
		OrderID:        orderID,
		VendorID:       vendorID,
		Payload:        []byte(`{"kind":"VENDOR_WEBHOOK"}`),
		Status:         domain.StatusPending,
		IdempotencyKey: domain.IdempotencyKey(orderID, domain.KindVendorWebhook, vendorID),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestDispatchOnce_PublishesPendingInCreationOrder(t *testing.T) {
	repo := memory.NewRepository()
	publisher := newFakePublisher()
	relay := NewRelay(repo, publisher)

	base := time.Now().UTC()
	vendorID := uuid.New()
	first := pendingEvent(uuid.New(), vendorID, base)
	second := pendingEvent(uuid.New(), vendorID, base.Add(time.Second))
	repo.Append(second, first)

	published, err := relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Len(t, publisher.published, 2)
	require.Equal(t, first.ID, publisher.published[0].EventID)
	require.Equal(t, second.ID, publisher.published[1].EventID)

	for _, event := range []*domain.Event{first, second} {
		stored, err := repo.Get(context.Background(), event.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusRelayed, stored.Status)
	}

	// Nothing left to promote.
	published, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, published)
}

func TestDispatchOnce_PublishFailureSkipsRestOfVendor(t *testing.T) {
	repo := memory.NewRepository()
	publisher := newFakePublisher()
	relay := NewRelay(repo, publisher)

	base := time.Now().UTC()
	failingVendor := uuid.New()
	healthyVendor := uuid.New()
	publisher.failKeys[failingVendor.String()] = true

	blocked := pendingEvent(uuid.New(), failingVendor, base)
	alsoBlocked := pendingEvent(uuid.New(), failingVendor, base.Add(time.Second))
	healthy := pendingEvent(uuid.New(), healthyVendor, base.Add(2*time.Second))
	repo.Append(blocked, alsoBlocked, healthy)

	published, err := relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
	require.Len(t, publisher.published, 1)
	require.Equal(t, healthy.ID, publisher.published[0].EventID)

	// The failing vendor's rows stay pending so order is preserved next cycle.
	for _, event := range []*domain.Event{blocked, alsoBlocked} {
		stored, err := repo.Get(context.Background(), event.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusPending, stored.Status)
	}

	publisher.failKeys[failingVendor.String()] = false
	published, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Equal(t, blocked.ID, publisher.published[1].EventID)
	require.Equal(t, alsoBlocked.ID, publisher.published[2].EventID)
}

func TestDispatchOnce_MarkRelayedFailureRepublishesWithSameKey(t *testing.T) {
	repo := &markRelayedFailingRepo{Repository: memory.NewRepository(), failures: 1}
	publisher := newFakePublisher()
	relay := NewRelay(repo, publisher)

	event := pendingEvent(uuid.New(), uuid.New(), time.Now().UTC())
	repo.Append(event)

	published, err := relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, published)

	// Crash-recovery path: the row stayed pending, so the next cycle publishes
	// a duplicate carrying the same idempotency key for consumers to collapse.
	published, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
	require.Len(t, publisher.published, 2)
	require.Equal(t, publisher.published[0].IdempotencyKey, publisher.published[1].IdempotencyKey)

	stored, err := repo.Get(context.Background(), event.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRelayed, stored.Status)
}

func TestDispatchOnce_HonorsBatchSize(t *testing.T) {
	repo := memory.NewRepository()
	publisher := newFakePublisher()
	relay := NewRelay(repo, publisher, WithBatchSize(1))

	base := time.Now().UTC()
	vendorID := uuid.New()
	repo.Append(
		pendingEvent(uuid.New(), vendorID, base),
		pendingEvent(uuid.New(), vendorID, base.Add(time.Second)),
	)

	published, err := relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
	published, err = relay.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
}
