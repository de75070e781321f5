package ports

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
)

var (
	// ErrOutOfStock signals a cart item's stock was insufficient at commit time.
	ErrOutOfStock = errors.New("insufficient stock for one or more items")
	// ErrTransactionConflict signals the commit lost to a concurrent transaction.
	ErrTransactionConflict = errors.New("order commit conflicted with a concurrent transaction")
	// ErrNotFound indicates the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrVendorOrderNotFound indicates the per-vendor split does not exist.
	ErrVendorOrderNotFound = errors.New("vendor order not found")
)

// StockDecrement is one conditional decrement inside the atomic unit.
type StockDecrement struct {
	ProductID uuid.UUID
	Quantity  int64
}

// OrderCommit is everything the atomic unit writes: order rows, conditional
// inventory decrements, and the outbox rows describing the side effects.
// Stores apply it all-or-nothing; partial application is impossible.
type OrderCommit struct {
	Order        *domain.Order
	Items        []domain.OrderItem
	VendorOrders []domain.VendorOrder
	Decrements   []StockDecrement
	Events       []*outboxdomain.Event
}

// Store persists orders. CommitOrder is the single blocking point on the
// request path and performs no network I/O.
type Store interface {
	// CommitOrder applies the commit atomically. It returns ErrOutOfStock if
	// any decrement would go negative and ErrTransactionConflict on
	// concurrent-commit conflicts; either way nothing is applied.
	CommitOrder(ctx context.Context, commit OrderCommit) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// MarkVendorNotified records a successful vendor webhook delivery on the
	// per-vendor split without touching the Order itself.
	MarkVendorNotified(ctx context.Context, orderID, vendorID uuid.UUID) error
}

// InventoryLedger exposes stock reads and seeding outside the atomic unit.
type InventoryLedger interface {
	Stock(ctx context.Context, productID uuid.UUID) (*domain.InventoryRecord, error)
	PutStock(ctx context.Context, record domain.InventoryRecord) error
}

// Service is the order transaction coordinator consumed by the HTTP layer.
type Service interface {
	PlaceOrder(ctx context.Context, customerID uuid.UUID, lines []domain.CartLine) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}
