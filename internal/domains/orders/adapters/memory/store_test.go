package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxmemory "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/memory"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
)

func commitFixture(t *testing.T) ports.OrderCommit {
	t.Helper()
	order, items, vendorOrders, err := domain.NewOrder(uuid.New(), []domain.CartLine{
		{ProductID: uuid.New(), VendorID: uuid.New(), Quantity: 2, UnitPrice: 100},
	})
	require.NoError(t, err)
	event, err := outboxdomain.NewOrderCreatedEvent(order, vendorOrders[0], items)
	require.NoError(t, err)
	return ports.OrderCommit{
		Order:        order,
		Items:        items,
		VendorOrders: vendorOrders,
		Decrements:   []ports.StockDecrement{{ProductID: items[0].ProductID, Quantity: 2}},
		Events:       []*outboxdomain.Event{event},
	}
}

func TestCommitOrder_AppliesWholeUnit(t *testing.T) {
	ctx := context.Background()
	outbox := outboxmemory.NewRepository()
	store := NewStore(outbox)
	commit := commitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 5}))

	require.NoError(t, store.CommitOrder(ctx, commit))
	require.Equal(t, domain.StatusConfirmed, commit.Order.Status)

	stored, err := store.GetOrder(ctx, commit.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, stored.Status)

	stock, err := store.Stock(ctx, commit.Decrements[0].ProductID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stock.Available)

	pending, err := outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, commit.Events[0].ID, pending[0].ID)
}

func TestCommitOrder_OutOfStockAppliesNothing(t *testing.T) {
	ctx := context.Background()
	outbox := outboxmemory.NewRepository()
	store := NewStore(outbox)
	commit := commitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 1}))

	err := store.CommitOrder(ctx, commit)
	require.ErrorIs(t, err, ports.ErrOutOfStock)

	_, err = store.GetOrder(ctx, commit.Order.ID)
	require.ErrorIs(t, err, ports.ErrNotFound)

	stock, err := store.Stock(ctx, commit.Decrements[0].ProductID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stock.Available)

	pending, err := outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCommitOrder_UnknownProductIsOutOfStock(t *testing.T) {
	store := NewStore(outboxmemory.NewRepository())
	commit := commitFixture(t)

	err := store.CommitOrder(context.Background(), commit)
	require.ErrorIs(t, err, ports.ErrOutOfStock)
}

func TestCommitOrder_DuplicateOrderConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(outboxmemory.NewRepository())
	commit := commitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 10}))

	require.NoError(t, store.CommitOrder(ctx, commit))

	replay := commit
	replayOrder := *commit.Order
	replayOrder.Status = domain.StatusPending
	replay.Order = &replayOrder
	err := store.CommitOrder(ctx, replay)
	require.ErrorIs(t, err, ports.ErrTransactionConflict)
}

func TestMarkVendorNotified_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(outboxmemory.NewRepository())
	commit := commitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 5}))
	require.NoError(t, store.CommitOrder(ctx, commit))
	vendorID := commit.VendorOrders[0].VendorID

	require.NoError(t, store.MarkVendorNotified(ctx, commit.Order.ID, vendorID))
	require.NoError(t, store.MarkVendorNotified(ctx, commit.Order.ID, vendorID))

	splits, err := store.VendorOrders(ctx, commit.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VendorOrderNotified, splits[0].Status)

	require.ErrorIs(t, store.MarkVendorNotified(ctx, commit.Order.ID, uuid.New()), ports.ErrVendorOrderNotFound)
	require.ErrorIs(t, store.MarkVendorNotified(ctx, uuid.New(), vendorID), ports.ErrNotFound)
}
