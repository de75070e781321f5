package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	ordersdomain "github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
)

// Payload bodies carry an explicit kind tag so workers can fail fast on a
// mismatched or malformed body instead of propagating ambiguous errors.

const orderCreatedEventName = "ORDER_CREATED"

// OrderCreatedPayload is the body delivered to a vendor webhook endpoint.
type OrderCreatedPayload struct {
	Kind       string             `json:"kind"`
	Event      string             `json:"event"`
	OrderID    uuid.UUID          `json:"orderId"`
	VendorID   uuid.UUID          `json:"vendorId"`
	CustomerID uuid.UUID          `json:"customerId"`
	Subtotal   int64              `json:"subtotal"`
	Lines      []OrderCreatedLine `json:"lines"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// OrderCreatedLine is one vendor-owned line of the order.
type OrderCreatedLine struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
}

// RewardsAccrualPayload is the body posted to the rewards collaborator.
type RewardsAccrualPayload struct {
	Kind       string    `json:"kind"`
	OrderID    uuid.UUID `json:"orderId"`
	CustomerID uuid.UUID `json:"customerId"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewOrderCreatedEvent builds the pending VENDOR_WEBHOOK event for one vendor
// split of the order.
func NewOrderCreatedEvent(order *ordersdomain.Order, vendorOrder ordersdomain.VendorOrder, items []ordersdomain.OrderItem) (*Event, error) {
	payload := OrderCreatedPayload{
		Kind:       string(KindVendorWebhook),
		Event:      orderCreatedEventName,
		OrderID:    order.ID,
		VendorID:   vendorOrder.VendorID,
		CustomerID: order.CustomerID,
		Subtotal:   vendorOrder.Subtotal,
		OccurredAt: order.CreatedAt,
	}
	for _, item := range items {
		if item.VendorID != vendorOrder.VendorID {
			continue
		}
		payload.Lines = append(payload.Lines, OrderCreatedLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order created payload: %w", err)
	}
	return newEvent(KindVendorWebhook, order.ID, vendorOrder.VendorID, body)
}

// NewRewardsAccrualEvent builds the pending REWARDS_ACCRUAL event for the order.
func NewRewardsAccrualEvent(order *ordersdomain.Order) (*Event, error) {
	payload := RewardsAccrualPayload{
		Kind:       string(KindRewardsAccrual),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.TotalAmount,
		OccurredAt: order.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rewards accrual payload: %w", err)
	}
	return newEvent(KindRewardsAccrual, order.ID, uuid.Nil, body)
}

// DecodeOrderCreated parses and validates a vendor webhook body at the worker
// boundary. A failure here is permanent, never retried.
func DecodeOrderCreated(body []byte) (*OrderCreatedPayload, error) {
	var payload OrderCreatedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode order created payload: %w", err)
	}
	if payload.Kind != string(KindVendorWebhook) {
		return nil, fmt.Errorf("%w: payload kind %q", ErrUnknownKind, payload.Kind)
	}
	if payload.OrderID == uuid.Nil || payload.VendorID == uuid.Nil {
		return nil, fmt.Errorf("order created payload missing identifiers")
	}
	return &payload, nil
}

// DecodeRewardsAccrual parses and validates a rewards body at the worker boundary.
func DecodeRewardsAccrual(body []byte) (*RewardsAccrualPayload, error) {
	var payload RewardsAccrualPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode rewards accrual payload: %w", err)
	}
	if payload.Kind != string(KindRewardsAccrual) {
		return nil, fmt.Errorf("%w: payload kind %q", ErrUnknownKind, payload.Kind)
	}
	if payload.OrderID == uuid.Nil || payload.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("rewards accrual payload missing identifiers")
	}
	return &payload, nil
}
