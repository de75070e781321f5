package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/orders/ports"
	outboxdomain "github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
)

const (
	defaultConflictRetries = 3
	defaultConflictBackoff = 25 * time.Millisecond
)

// Service is the order transaction coordinator. It assembles the atomic unit
// (order rows, conditional decrements, outbox rows) and hands it to the store
// in one commit. Delivery failures never reach this path.
type Service struct {
	store           ports.Store
	conflictRetries int
	conflictBackoff time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

// Option configures the coordinator.
type Option func(*Service)

// WithConflictRetries bounds transparent retries on commit conflicts.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithConflictBackoff sets the pause between conflict retries.
func WithConflictBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.conflictBackoff = d
		}
	}
}

// NewService wires the coordinator over the transactional store.
func NewService(store ports.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		conflictRetries: defaultConflictRetries,
		conflictBackoff: defaultConflictBackoff,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PlaceOrder commits the order, its inventory decrements, and its outbox
// events as one atomic unit and returns the confirmed order. Only
// ErrOutOfStock and an exhausted ErrTransactionConflict surface to the caller.
func (s *Service) PlaceOrder(ctx context.Context, customerID uuid.UUID, lines []domain.CartLine) (*domain.Order, error) {
	if customerID == uuid.Nil {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	order, items, vendorOrders, err := domain.NewOrder(customerID, lines)
	if err != nil {
		return nil, mapError(err)
	}

	events := make([]*outboxdomain.Event, 0, len(vendorOrders)+1)
	for _, vendorOrder := range vendorOrders {
		event, err := outboxdomain.NewOrderCreatedEvent(order, vendorOrder, items)
		if err != nil {
			return nil, fmt.Errorf("build vendor webhook event: %w", err)
		}
		events = append(events, event)
	}
	rewardsEvent, err := outboxdomain.NewRewardsAccrualEvent(order)
	if err != nil {
		return nil, fmt.Errorf("build rewards accrual event: %w", err)
	}
	events = append(events, rewardsEvent)

	commit := ports.OrderCommit{
		Order:        order,
		Items:        items,
		VendorOrders: vendorOrders,
		Decrements:   decrementsFor(items),
		Events:       events,
	}

	for attempt := 0; ; attempt++ {
		err = s.store.CommitOrder(ctx, commit)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ports.ErrTransactionConflict) || attempt >= s.conflictRetries {
			return nil, err
		}
		if err := s.sleep(ctx, s.conflictBackoff*time.Duration(attempt+1)); err != nil {
			return nil, ports.ErrTransactionConflict
		}
	}
}

// GetOrder fetches an order by identifier.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// decrementsFor folds cart lines into one conditional decrement per product.
func decrementsFor(items []domain.OrderItem) []ports.StockDecrement {
	totals := map[uuid.UUID]int64{}
	order := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, seen := totals[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		totals[item.ProductID] += int64(item.Quantity)
	}
	decrements := make([]ports.StockDecrement, 0, len(order))
	for _, productID := range order {
		decrements = append(decrements, ports.StockDecrement{ProductID: productID, Quantity: totals[productID]})
	}
	return decrements
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ports.Service = (*Service)(nil)
