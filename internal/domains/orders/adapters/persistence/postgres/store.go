package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
)

var (
	_ ports.Store           = (*Store)(nil)
	_ ports.InventoryLedger = (*Store)(nil)
)

// Store persists orders in PostgreSQL using GORM. CommitOrder wraps the
// entire unit in one database transaction; the conditional decrement relies
// on row-level locking so concurrent orders on the same product serialize
// while unrelated products do not block each other.
type Store struct {
	db *gorm.DB
}

// NewStore wires a PostgreSQL-backed store. Caller manages DB lifecycle and
// runs migrations.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

type orderRecord struct {
	ID          uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	CustomerID  uuid.UUID `gorm:"column:customer_id;type:uuid;index"`
	Status      string    `gorm:"column:status;type:varchar(32);index"`
	TotalAmount int64     `gorm:"column:total_amount"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

type orderItemRecord struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;index"`
	VendorID  uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	Quantity  int32     `gorm:"column:quantity"`
	UnitPrice int64     `gorm:"column:unit_price"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (orderItemRecord) TableName() string { return "order_items" }

type vendorOrderRecord struct {
	ID         uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	OrderID    uuid.UUID      `gorm:"column:order_id;type:uuid;index:idx_vendor_orders_order_vendor"`
	VendorID   uuid.UUID      `gorm:"column:vendor_id;type:uuid;index:idx_vendor_orders_order_vendor"`
	Status     string         `gorm:"column:status;type:varchar(32);index"`
	Subtotal   int64          `gorm:"column:subtotal"`
	ProductIDs pq.StringArray `gorm:"column:product_ids;type:text[]"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (vendorOrderRecord) TableName() string { return "vendor_orders" }

type inventoryRecord struct {
	ProductID uuid.UUID `gorm:"primaryKey;column:product_id;type:uuid"`
	Available int64     `gorm:"column:available"`
	Reserved  int64     `gorm:"column:reserved"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (inventoryRecord) TableName() string { return "inventory_records" }

type outboxEventRecord struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	Kind           string    `gorm:"column:kind;type:varchar(32);index"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	VendorID       uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	Payload        []byte    `gorm:"column:payload;type:jsonb"`
	Status         string    `gorm:"column:status;type:varchar(16)"`
	Attempts       int       `gorm:"column:attempts"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	LastError      string    `gorm:"column:last_error"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (outboxEventRecord) TableName() string { return "outbox_events" }

// CommitOrder applies the atomic unit. No network call happens inside the
// transaction boundary.
func (s *Store) CommitOrder(ctx context.Context, commit ports.OrderCommit) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if commit.Order == nil {
		return errors.New("order is nil")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, decrement := range commit.Decrements {
			result := tx.Model(&inventoryRecord{}).
				Where("product_id = ? AND available >= ?", decrement.ProductID, decrement.Quantity).
				Updates(map[string]any{
					"available":  gorm.Expr("available - ?", decrement.Quantity),
					"updated_at": time.Now().UTC(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ports.ErrOutOfStock
			}
		}

		order := *commit.Order
		if err := order.Confirm(); err != nil {
			return err
		}
		if err := tx.Create(toOrderRecord(&order)).Error; err != nil {
			return err
		}
		for _, item := range commit.Items {
			if err := tx.Create(toItemRecord(item)).Error; err != nil {
				return err
			}
		}
		for _, vendorOrder := range commit.VendorOrders {
			if err := tx.Create(toVendorOrderRecord(vendorOrder)).Error; err != nil {
				return err
			}
		}
		for _, event := range commit.Events {
			if err := tx.Create(toOutboxRecord(event)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classifyCommitError(err)
	}
	commit.Order.Status = domain.StatusConfirmed
	return nil
}

// GetOrder fetches an order by identifier.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record orderRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// MarkVendorNotified flips the vendor split to notified after a delivered webhook.
func (s *Store) MarkVendorNotified(ctx context.Context, orderID, vendorID uuid.UUID) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&vendorOrderRecord{}).
		Where("order_id = ? AND vendor_id = ? AND status = ?", orderID, vendorID, string(domain.VendorOrderPending)).
		Updates(map[string]any{
			"status":     string(domain.VendorOrderNotified),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either already notified (fine, deliveries are at-least-once) or absent.
		var count int64
		if err := s.db.WithContext(ctx).Model(&vendorOrderRecord{}).
			Where("order_id = ? AND vendor_id = ?", orderID, vendorID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ports.ErrVendorOrderNotFound
		}
	}
	return nil
}

// Stock returns the inventory record for a product.
func (s *Store) Stock(ctx context.Context, productID uuid.UUID) (*domain.InventoryRecord, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record inventoryRecord
	if err := s.db.WithContext(ctx).First(&record, "product_id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return &domain.InventoryRecord{ProductID: record.ProductID, Available: record.Available, Reserved: record.Reserved}, nil
}

// PutStock seeds or replaces the inventory record for a product.
func (s *Store) PutStock(ctx context.Context, record domain.InventoryRecord) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	row := inventoryRecord{
		ProductID: record.ProductID,
		Available: record.Available,
		Reserved:  record.Reserved,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres order store not configured")
	}
	return nil
}

// classifyCommitError maps Postgres failure modes onto the coordinator's
// error taxonomy: serialization failures, deadlocks, and duplicate keys are
// all retryable conflicts.
func classifyCommitError(err error) error {
	if errors.Is(err, ports.ErrOutOfStock) || errors.Is(err, ports.ErrTransactionConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return ports.ErrTransactionConflict
		}
	}
	return err
}

func toOrderRecord(order *domain.Order) *orderRecord {
	now := time.Now().UTC()
	return &orderRecord{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   now,
	}
}

func toItemRecord(item domain.OrderItem) *orderItemRecord {
	return &orderItemRecord{
		ID:        item.ID,
		OrderID:   item.OrderID,
		ProductID: item.ProductID,
		VendorID:  item.VendorID,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		CreatedAt: time.Now().UTC(),
	}
}

func toVendorOrderRecord(vendorOrder domain.VendorOrder) *vendorOrderRecord {
	products := make(pq.StringArray, 0, len(vendorOrder.ProductIDs))
	for _, productID := range vendorOrder.ProductIDs {
		products = append(products, productID.String())
	}
	now := time.Now().UTC()
	return &vendorOrderRecord{
		ID:         vendorOrder.ID,
		OrderID:    vendorOrder.OrderID,
		VendorID:   vendorOrder.VendorID,
		Status:     string(vendorOrder.Status),
		Subtotal:   vendorOrder.Subtotal,
		ProductIDs: products,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func toOutboxRecord(event *outboxdomain.Event) *outboxEventRecord {
	return &outboxEventRecord{
		ID:             event.ID,
		Kind:           string(event.Kind),
		OrderID:        event.OrderID,
		VendorID:       event.VendorID,
		Payload:        event.Payload,
		Status:         string(event.Status),
		Attempts:       event.Attempts,
		IdempotencyKey: event.IdempotencyKey,
		LastError:      event.LastError,
		CreatedAt:      event.CreatedAt,
		UpdatedAt:      event.UpdatedAt,
	}
}

func (r orderRecord) toDomain() *domain.Order {
	return &domain.Order{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		Status:      domain.Status(r.Status),
		TotalAmount: r.TotalAmount,
		CreatedAt:   r.CreatedAt,
	}
}
