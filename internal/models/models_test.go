package models

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderItem_Total(t *testing.T) {
	item := OrderItem{Quantity: 3, Price: decimal.RequireFromString("99.99")}
	assert.Equal(t, "299.97", item.Total().StringFixed(2))
}

func TestNewOrder_FreezesTotal(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("499.00")},
		{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("449.00")},
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	order := NewOrder("c1", PaymentMethodOnline, items, now)

	assert.Equal(t, "1447.00", order.Total.StringFixed(2))
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, PaymentStatusPending, order.PaymentStatus)
	assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-F]{8}$`), order.OrderNumber)
}

func TestOrderItem_MarshalJSONIncludesTotal(t *testing.T) {
	item := OrderItem{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("10.50")}

	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "21", out["total"])
	assert.Equal(t, "p1", out["product_id"])
}

func TestStatuses(t *testing.T) {
	assert.True(t, PaymentStatusVerified.IsTerminal())
	assert.True(t, PaymentStatusRejected.IsTerminal())
	assert.False(t, PaymentStatusProcessing.IsTerminal())
	assert.False(t, PaymentStatus("paid").Valid())

	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.False(t, OrderStatusOutForDelivery.IsTerminal())
	assert.False(t, PaymentMethod("card").Valid())
}

func TestPayment_CheckDetail(t *testing.T) {
	p := &Payment{Reference: "PAY-1", PaymentType: PaymentMethodOffline}

	assert.NoError(t, p.CheckDetail(&OfflineDetail{}))
	assert.NoError(t, p.CheckDetail(nil))
	assert.ErrorIs(t, p.CheckDetail(&CODDetail{}), ErrTypeMismatch)
}

func TestPayment_DetailAccessors(t *testing.T) {
	p := &Payment{PaymentType: PaymentMethodCOD, Detail: &CODDetail{AdvanceVerified: true}}

	cod, ok := p.COD()
	require.True(t, ok)
	assert.True(t, cod.AdvanceVerified)

	_, ok = p.Online()
	assert.False(t, ok)
}

func TestNewOrderEvent_RoundTrip(t *testing.T) {
	order := &Order{OrderNumber: "ORD-0A1B2C3D", Status: OrderStatusPending}
	now := time.Now().UTC()

	msg, err := NewOrderEvent(EventOrderCreated, OrderEventData{Order: order}, now)
	require.NoError(t, err)
	assert.Equal(t, AggregateOrder, msg.AggregateType)
	assert.Equal(t, "ORD-0A1B2C3D", msg.AggregateID)

	event, err := DecodeEvent(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, EventOrderCreated, event.EventType)

	var data OrderEventData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "ORD-0A1B2C3D", data.Order.OrderNumber)
}

func TestPayment_UnmarshalJSONPicksDetailType(t *testing.T) {
	order := NewOrder("c1", PaymentMethodCOD, nil, time.Now().UTC())
	payment := NewPayment(order, PaymentMethodCOD, decimal.RequireFromString("1447.00"), time.Now().UTC())
	payment.Detail = &CODDetail{AdvanceAmount: decimal.RequireFromString("200.00"), AdvanceVerified: true}

	raw, err := json.Marshal(payment)
	require.NoError(t, err)

	var got Payment
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, payment.Reference, got.Reference)
	cod, ok := got.COD()
	require.True(t, ok)
	assert.True(t, cod.AdvanceVerified)
	assert.Equal(t, "200.00", cod.AdvanceAmount.StringFixed(2))

	var bare Payment
	require.NoError(t, json.Unmarshal([]byte(`{"reference":"PAY-00000001","payment_type":"online"}`), &bare))
	assert.Nil(t, bare.Detail)

	err = json.Unmarshal([]byte(`{"payment_type":"barter","detail":{}}`), &bare)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
