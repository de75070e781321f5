package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status enumerates order progression.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusFulfilling Status = "fulfilling"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrEmptyCart        = errors.New("cart must contain at least one item")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidUnitPrice = errors.New("unit price must not be negative")
	ErrInvalidProduct   = errors.New("product id is required")
	ErrInvalidVendor    = errors.New("vendor id is required")
	ErrInvalidStatus    = errors.New("order status is invalid")
)

// CartLine is one requested line of a cart at order time.
type CartLine struct {
	ProductID uuid.UUID
	VendorID  uuid.UUID
	Quantity  int32
	UnitPrice int64
}

// Order models the order aggregate root. Amounts are integer cents.
type Order struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	Status      Status
	TotalAmount int64
	CreatedAt   time.Time
}

// OrderItem is an immutable child row of an Order capturing the price at order time.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	VendorID  uuid.UUID
	Quantity  int32
	UnitPrice int64
}

// VendorOrderStatus tracks the per-vendor split independently of its siblings.
type VendorOrderStatus string

const (
	VendorOrderPending    VendorOrderStatus = "pending"
	VendorOrderNotified   VendorOrderStatus = "notified"
	VendorOrderFulfilling VendorOrderStatus = "fulfilling"
	VendorOrderCompleted  VendorOrderStatus = "completed"
	VendorOrderFailed     VendorOrderStatus = "failed"
)

// VendorOrder is the derived split of an Order for one vendor.
type VendorOrder struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	VendorID   uuid.UUID
	Status     VendorOrderStatus
	Subtotal   int64
	ProductIDs []uuid.UUID
}

// NewOrder validates the cart and constructs the order aggregate with its
// items and per-vendor splits. The order starts as pending; the store flips it
// to confirmed when the atomic commit succeeds.
func NewOrder(customerID uuid.UUID, lines []CartLine) (*Order, []OrderItem, []VendorOrder, error) {
	if len(lines) == 0 {
		return nil, nil, nil, ErrEmptyCart
	}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, nil, nil, ErrInvalidProduct
		}
		if line.VendorID == uuid.Nil {
			return nil, nil, nil, ErrInvalidVendor
		}
		if line.Quantity <= 0 {
			return nil, nil, nil, ErrInvalidQuantity
		}
		if line.UnitPrice < 0 {
			return nil, nil, nil, ErrInvalidUnitPrice
		}
	}

	order := &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	items := make([]OrderItem, 0, len(lines))
	subtotals := map[uuid.UUID]int64{}
	products := map[uuid.UUID][]uuid.UUID{}
	for _, line := range lines {
		items = append(items, OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			VendorID:  line.VendorID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
		lineTotal := int64(line.Quantity) * line.UnitPrice
		order.TotalAmount += lineTotal
		subtotals[line.VendorID] += lineTotal
		products[line.VendorID] = append(products[line.VendorID], line.ProductID)
	}

	vendorIDs := make([]uuid.UUID, 0, len(subtotals))
	for vendorID := range subtotals {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Slice(vendorIDs, func(i, j int) bool { return vendorIDs[i].String() < vendorIDs[j].String() })

	vendorOrders := make([]VendorOrder, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		vendorOrders = append(vendorOrders, VendorOrder{
			ID:         uuid.New(),
			OrderID:    order.ID,
			VendorID:   vendorID,
			Status:     VendorOrderPending,
			Subtotal:   subtotals[vendorID],
			ProductIDs: products[vendorID],
		})
	}
	return order, items, vendorOrders, nil
}

// Confirm transitions the order out of pending once the atomic unit committed.
func (o *Order) Confirm() error {
	if o.Status != StatusPending {
		return ErrInvalidStatus
	}
	o.Status = StatusConfirmed
	return nil
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusFulfilling || next == StatusCancelled
	case StatusFulfilling:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFulfilling, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}
