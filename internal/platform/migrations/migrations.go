package migrations

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Run applies the schema for the bounded contexts. Intended to replace adapter-level automigrate.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&orderRecord{},
		&orderItemRecord{},
		&vendorOrderRecord{},
		&inventoryRecord{},
		&outboxEventRecord{},
		&deliveryAttemptRecord{},
		&vendorEndpointRecord{},
	)
}

// Order schema mirrors the orders Postgres adapter.
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
	Available int64     `gorm:"column:available;check:available >= 0"`
	Reserved  int64     `gorm:"column:reserved"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (inventoryRecord) TableName() string { return "inventory_records" }

// Outbox schema mirrors the outbox Postgres adapter.
type outboxEventRecord struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	Kind           string    `gorm:"column:kind;type:varchar(32);index"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	VendorID       uuid.UUID `gorm:"column:vendor_id;type:uuid;index:idx_outbox_vendor_status"`
	Payload        []byte    `gorm:"column:payload;type:jsonb"`
	Status         string    `gorm:"column:status;type:varchar(16);index:idx_outbox_vendor_status"`
	Attempts       int       `gorm:"column:attempts"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	LastError      string    `gorm:"column:last_error"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (outboxEventRecord) TableName() string { return "outbox_events" }

// Delivery schema mirrors the delivery Postgres adapters.
type deliveryAttemptRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	EventID    uuid.UUID `gorm:"column:event_id;type:uuid;index"`
	Number     int       `gorm:"column:number"`
	At         time.Time `gorm:"column:at;index"`
	Outcome    string    `gorm:"column:outcome;type:varchar(16)"`
	Reason     string    `gorm:"column:reason"`
	StatusCode int       `gorm:"column:status_code"`
	LatencyNS  int64     `gorm:"column:latency_ns"`
}

func (deliveryAttemptRecord) TableName() string { return "delivery_attempts" }

type vendorEndpointRecord struct {
	VendorID            uuid.UUID `gorm:"primaryKey;column:vendor_id;type:uuid"`
	ConsecutiveFailures int       `gorm:"column:consecutive_failures"`
	Circuit             string    `gorm:"column:circuit;type:varchar(16)"`
	OpenedCount         int       `gorm:"column:opened_count"`
	NextRetryAt         time.Time `gorm:"column:next_retry_at"`
	Version             int64     `gorm:"column:version"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (vendorEndpointRecord) TableName() string { return "vendor_endpoints" }
