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

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
	"github.com/Apurer/go-commerce-orders/internal/platform/migrations"
)

func setupOutboxPostgresContainer(t *testing.T) (*gorm.DB, func()) {
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

func insertEvent(t *testing.T, db *gorm.DB, status domain.Status, createdAt time.Time) uuid.UUID {
	t.Helper()
	record := outboxEventRecord{
		ID:             uuid.New(),
		Kind:           string(domain.KindVendorWebhook),
		OrderID:        uuid.New(),
		VendorID:       uuid.New(),
		Payload:        []byte(`{"kind":"VENDOR_WEBHOOK"}`),
		Status:         string(status),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, db.Create(&record).Error)
	return record.ID
}

func TestRepository_ListPendingOrdersByCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOutboxPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	newest := insertEvent(t, db, domain.StatusPending, base.Add(2*time.Second))
	oldest := insertEvent(t, db, domain.StatusPending, base)
	middle := insertEvent(t, db, domain.StatusPending, base.Add(time.Second))
	insertEvent(t, db, domain.StatusDead, base)

	events, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, oldest, events[0].ID)
	assert.Equal(t, middle, events[1].ID)
	assert.Equal(t, newest, events[2].ID)

	limited, err := repo.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, oldest, limited[0].ID)
}

func TestRepository_TransitionGuards(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOutboxPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	id := insertEvent(t, db, domain.StatusPending, time.Now().UTC())

	// delivered requires relayed first
	require.ErrorIs(t, repo.MarkDelivered(ctx, id), ports.ErrInvalidTransition)

	require.NoError(t, repo.MarkRelayed(ctx, id))
	// repeating the same transition is a no-op, not an error
	require.NoError(t, repo.MarkRelayed(ctx, id))
	require.NoError(t, repo.MarkDelivered(ctx, id))

	// a settled event can no longer be dead-lettered
	require.ErrorIs(t, repo.MarkDead(ctx, id, "late failure"), ports.ErrInvalidTransition)

	event, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, event.Status)
	assert.Empty(t, event.LastError)

	require.ErrorIs(t, repo.MarkRelayed(ctx, uuid.New()), ports.ErrEventNotFound)
}

func TestRepository_RecordFailureBumpsAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupOutboxPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	id := insertEvent(t, db, domain.StatusRelayed, time.Now().UTC())

	require.NoError(t, repo.RecordFailure(ctx, id, "503 from vendor"))
	require.NoError(t, repo.RecordFailure(ctx, id, "connection refused"))

	event, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, event.Attempts)
	assert.Equal(t, "connection refused", event.LastError)
	assert.Equal(t, domain.StatusRelayed, event.Status)

	require.NoError(t, repo.MarkDead(ctx, id, "retries exhausted after 2 attempts"))
	dead, err := repo.ListDead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Contains(t, dead[0].LastError, "retries exhausted")
}
