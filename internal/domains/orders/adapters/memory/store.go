package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxmemory "github.com/Apurer/go-commerce-orders/internal/domains/outbox/adapters/memory"
)

var (
	_ ports.Store           = (*Store)(nil)
	_ ports.InventoryLedger = (*Store)(nil)
)

// Store provides an in-memory order store and inventory ledger for
// development and tests. CommitOrder validates the entire unit under one lock
// before applying anything, mirroring the all-or-nothing postgres transaction.
type Store struct {
	mu           sync.RWMutex
	orders       map[uuid.UUID]*domain.Order
	items        map[uuid.UUID][]domain.OrderItem
	vendorOrders map[uuid.UUID][]domain.VendorOrder
	inventory    map[uuid.UUID]*domain.InventoryRecord
	outbox       *outboxmemory.Repository
}

// NewStore constructs an empty store writing outbox rows into repo.
func NewStore(repo *outboxmemory.Repository) *Store {
	return &Store{
		orders:       map[uuid.UUID]*domain.Order{},
		items:        map[uuid.UUID][]domain.OrderItem{},
		vendorOrders: map[uuid.UUID][]domain.VendorOrder{},
		inventory:    map[uuid.UUID]*domain.InventoryRecord{},
		outbox:       repo,
	}
}

// CommitOrder applies the atomic unit or nothing at all.
func (s *Store) CommitOrder(_ context.Context, commit ports.OrderCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, decrement := range commit.Decrements {
		record, ok := s.inventory[decrement.ProductID]
		if !ok || record.Available < decrement.Quantity {
			return ports.ErrOutOfStock
		}
	}
	if _, exists := s.orders[commit.Order.ID]; exists {
		return ports.ErrTransactionConflict
	}

	for _, decrement := range commit.Decrements {
		s.inventory[decrement.ProductID].Available -= decrement.Quantity
	}
	confirmed := *commit.Order
	if err := confirmed.Confirm(); err != nil {
		return err
	}
	s.orders[confirmed.ID] = &confirmed
	s.items[confirmed.ID] = append([]domain.OrderItem(nil), commit.Items...)
	s.vendorOrders[confirmed.ID] = append([]domain.VendorOrder(nil), commit.VendorOrders...)
	if s.outbox != nil {
		s.outbox.Append(commit.Events...)
	}
	commit.Order.Status = confirmed.Status
	return nil
}

// GetOrder fetches an order by identifier.
func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	copy := *order
	return &copy, nil
}

// VendorOrders returns the per-vendor splits of an order.
func (s *Store) VendorOrders(_ context.Context, orderID uuid.UUID) ([]domain.VendorOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	splits, ok := s.vendorOrders[orderID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return append([]domain.VendorOrder(nil), splits...), nil
}

// MarkVendorNotified flips the vendor split to notified after a delivered webhook.
func (s *Store) MarkVendorNotified(_ context.Context, orderID, vendorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	splits, ok := s.vendorOrders[orderID]
	if !ok {
		return ports.ErrNotFound
	}
	for i := range splits {
		if splits[i].VendorID == vendorID {
			if splits[i].Status == domain.VendorOrderPending {
				splits[i].Status = domain.VendorOrderNotified
			}
			return nil
		}
	}
	return ports.ErrVendorOrderNotFound
}

// Stock returns the inventory record for a product.
func (s *Store) Stock(_ context.Context, productID uuid.UUID) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.inventory[productID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	copy := *record
	return &copy, nil
}

// PutStock seeds or replaces the inventory record for a product.
func (s *Store) PutStock(_ context.Context, record domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := record
	s.inventory[record.ProductID] = &copy
	return nil
}
