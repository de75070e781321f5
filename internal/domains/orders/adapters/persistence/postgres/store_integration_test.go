//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/platform/migrations"
)

func setupOrdersPostgresContainer(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("commerce_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	err = migrations.Run(db)
	require.NoError(t, err)

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		pgContainer.Terminate(ctx)
	}

	return db, cleanup
}

func orderCommitFixture(t *testing.T) ports.OrderCommit {
	t.Helper()
	order, items, vendorOrders, err := domain.NewOrder(uuid.New(), []domain.CartLine{
		{ProductID: uuid.New(), VendorID: uuid.New(), Quantity: 2, UnitPrice: 500},
	})
	require.NoError(t, err)
	event, err := outboxdomain.NewOrderCreatedEvent(order, vendorOrders[0], items)
	require.NoError(t, err)
	rewards, err := outboxdomain.NewRewardsAccrualEvent(order)
	require.NoError(t, err)
	return ports.OrderCommit{
		Order:        order,
		Items:        items,
		VendorOrders: vendorOrders,
		Decrements:   []ports.StockDecrement{{ProductID: items[0].ProductID, Quantity: 2}},
		Events:       []*outboxdomain.Event{event, rewards},
	}
}

func TestStore_CommitOrderAppliesWholeUnit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()
	commit := orderCommitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 5}))

	require.NoError(t, store.CommitOrder(ctx, commit))

	fetched, err := store.GetOrder(ctx, commit.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, fetched.Status)
	assert.Equal(t, commit.Order.TotalAmount, fetched.TotalAmount)

	stock, err := store.Stock(ctx, commit.Decrements[0].ProductID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock.Available)

	var outboxCount int64
	require.NoError(t, db.Table("outbox_events").Where("order_id = ?", commit.Order.ID).Count(&outboxCount).Error)
	assert.Equal(t, int64(2), outboxCount)
}

func TestStore_CommitOrderOutOfStockRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()
	commit := orderCommitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 1}))

	err := store.CommitOrder(ctx, commit)
	require.ErrorIs(t, err, ports.ErrOutOfStock)

	_, err = store.GetOrder(ctx, commit.Order.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	stock, err := store.Stock(ctx, commit.Decrements[0].ProductID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stock.Available)

	var outboxCount int64
	require.NoError(t, db.Table("outbox_events").Where("order_id = ?", commit.Order.ID).Count(&outboxCount).Error)
	assert.Zero(t, outboxCount)
}

func TestStore_DuplicateIdempotencyKeyConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()
	commit := orderCommitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 10}))
	require.NoError(t, store.CommitOrder(ctx, commit))

	// A second commit carrying the same logical event trips the unique
	// idempotency index and surfaces as a conflict, leaving the first intact.
	replay := orderCommitFixture(t)
	replay.Decrements = commit.Decrements
	replay.Events[0].IdempotencyKey = commit.Events[0].IdempotencyKey
	err := store.CommitOrder(ctx, replay)
	require.ErrorIs(t, err, ports.ErrTransactionConflict)

	stock, err := store.Stock(ctx, commit.Decrements[0].ProductID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stock.Available)
}

func TestStore_ConcurrentDecrementsNeverOversell(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()
	productID := uuid.New()
	vendorID := uuid.New()
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: productID, Available: 3}))

	commitFor := func() ports.OrderCommit {
		order, items, vendorOrders, err := domain.NewOrder(uuid.New(), []domain.CartLine{
			{ProductID: productID, VendorID: vendorID, Quantity: 2, UnitPrice: 500},
		})
		require.NoError(t, err)
		event, err := outboxdomain.NewOrderCreatedEvent(order, vendorOrders[0], items)
		require.NoError(t, err)
		return ports.OrderCommit{
			Order:        order,
			Items:        items,
			VendorOrders: vendorOrders,
			Decrements:   []ports.StockDecrement{{ProductID: productID, Quantity: 2}},
			Events:       []*outboxdomain.Event{event},
		}
	}

	// Stock covers exactly one of the two orders; the loser must see
	// out-of-stock, never a negative balance.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		commit := commitFor()
		go func() {
			errs <- store.CommitOrder(ctx, commit)
		}()
	}
	first, second := <-errs, <-errs

	succeeded := 0
	for _, err := range []error{first, second} {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ports.ErrOutOfStock)
	}
	assert.Equal(t, 1, succeeded)

	stock, err := store.Stock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stock.Available)
}

func TestStore_MarkVendorNotified(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()
	commit := orderCommitFixture(t)
	require.NoError(t, store.PutStock(ctx, domain.InventoryRecord{ProductID: commit.Decrements[0].ProductID, Available: 5}))
	require.NoError(t, store.CommitOrder(ctx, commit))
	vendorID := commit.VendorOrders[0].VendorID

	require.NoError(t, store.MarkVendorNotified(ctx, commit.Order.ID, vendorID))
	require.NoError(t, store.MarkVendorNotified(ctx, commit.Order.ID, vendorID))
	require.ErrorIs(t, store.MarkVendorNotified(ctx, commit.Order.ID, uuid.New()), ports.ErrVendorOrderNotFound)

	var status string
	require.NoError(t, db.Table("vendor_orders").
		Where("order_id = ? AND vendor_id = ?", commit.Order.ID, vendorID).
		Pluck("status", &status).Error)
	assert.Equal(t, string(domain.VendorOrderNotified), status)
}
