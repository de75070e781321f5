package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ordersdomain "github.com/Apurer/go-commerce-orders/internal/domains/orders/domain"
)

func TestIdempotencyKey_IsDeterministicPerLogicalEvent(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()

	first := IdempotencyKey(orderID, KindVendorWebhook, vendorID)
	second := IdempotencyKey(orderID, KindVendorWebhook, vendorID)
	require.Equal(t, first, second)
	require.Len(t, first, 64)

	require.NotEqual(t, first, IdempotencyKey(orderID, KindVendorWebhook, uuid.New()))
	require.NotEqual(t, first, IdempotencyKey(orderID, KindRewardsAccrual, vendorID))
	require.NotEqual(t, first, IdempotencyKey(uuid.New(), KindVendorWebhook, vendorID))
}

func TestStatus_Lifecycle(t *testing.T) {
	require.True(t, StatusPending.CanTransitionTo(StatusRelayed))
	require.True(t, StatusPending.CanTransitionTo(StatusDead))
	require.True(t, StatusRelayed.CanTransitionTo(StatusDelivered))
	require.True(t, StatusRelayed.CanTransitionTo(StatusDead))
	require.False(t, StatusPending.CanTransitionTo(StatusDelivered))
	require.False(t, StatusDelivered.CanTransitionTo(StatusDead))
	require.False(t, StatusDead.CanTransitionTo(StatusRelayed))

	require.True(t, StatusDelivered.Terminal())
	require.True(t, StatusDead.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRelayed.Terminal())
}

func orderFixture(t *testing.T) (*ordersdomain.Order, []ordersdomain.OrderItem, []ordersdomain.VendorOrder) {
	t.Helper()
	order, items, vendorOrders, err := ordersdomain.NewOrder(uuid.New(), []ordersdomain.CartLine{
		{ProductID: uuid.New(), VendorID: uuid.New(), Quantity: 2, UnitPrice: 150},
	})
	require.NoError(t, err)
	return order, items, vendorOrders
}

func TestNewOrderCreatedEvent_RoundTrips(t *testing.T) {
	order, items, vendorOrders := orderFixture(t)

	event, err := NewOrderCreatedEvent(order, vendorOrders[0], items)
	require.NoError(t, err)
	require.Equal(t, KindVendorWebhook, event.Kind)
	require.Equal(t, StatusPending, event.Status)
	require.Equal(t, vendorOrders[0].VendorID, event.VendorID)
	require.Equal(t, vendorOrders[0].VendorID.String(), event.PartitionKey())

	payload, err := DecodeOrderCreated(event.Payload)
	require.NoError(t, err)
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, vendorOrders[0].VendorID, payload.VendorID)
	require.Equal(t, vendorOrders[0].Subtotal, payload.Subtotal)
	require.Len(t, payload.Lines, 1)
}

func TestNewRewardsAccrualEvent_RoundTrips(t *testing.T) {
	order, _, _ := orderFixture(t)

	event, err := NewRewardsAccrualEvent(order)
	require.NoError(t, err)
	require.Equal(t, KindRewardsAccrual, event.Kind)
	require.Equal(t, uuid.Nil, event.VendorID)
	require.Equal(t, "rewards", event.PartitionKey())

	payload, err := DecodeRewardsAccrual(event.Payload)
	require.NoError(t, err)
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, order.TotalAmount, payload.Amount)
}

func TestDecodeOrderCreated_RejectsMalformedBodies(t *testing.T) {
	_, err := DecodeOrderCreated([]byte("{not json"))
	require.Error(t, err)

	_, err = DecodeOrderCreated([]byte(`{"kind":"REWARDS_ACCRUAL"}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeOrderCreated([]byte(`{"kind":"VENDOR_WEBHOOK"}`))
	require.Error(t, err)
}

func TestDecodeRewardsAccrual_RejectsMalformedBodies(t *testing.T) {
	_, err := DecodeRewardsAccrual([]byte("{not json"))
	require.Error(t, err)

	_, err = DecodeRewardsAccrual([]byte(`{"kind":"VENDOR_WEBHOOK"}`))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("VENDOR_WEBHOOK")
	require.NoError(t, err)
	require.Equal(t, KindVendorWebhook, kind)

	_, err = ParseKind("UNKNOWN")
	require.ErrorIs(t, err, ErrUnknownKind)
}
