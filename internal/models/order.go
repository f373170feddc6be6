package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the fulfillment status of an order
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRejected       OrderStatus = "rejected"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is possible
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRejected
}

// PaymentStatus is shared by orders and payments
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusVerified   PaymentStatus = "verified"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRejected   PaymentStatus = "rejected"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusVerified,
		PaymentStatusFailed, PaymentStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether a payment in this status is final
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusVerified || s == PaymentStatusFailed || s == PaymentStatusRejected
}

// PaymentMethod is the settlement channel chosen at checkout
type PaymentMethod string

const (
	PaymentMethodOnline  PaymentMethod = "online"
	PaymentMethodOffline PaymentMethod = "offline"
	PaymentMethodCOD     PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodOffline || m == PaymentMethodCOD
}

// ShippingAddress is the freeform address captured when no address id is given
type ShippingAddress struct {
	Street  *string `db:"shipping_street" json:"street,omitempty"`
	City    *string `db:"shipping_city" json:"city,omitempty"`
	State   *string `db:"shipping_state" json:"state,omitempty"`
	Zip     *string `db:"shipping_zip" json:"zip,omitempty"`
	Country *string `db:"shipping_country" json:"country,omitempty"`
}

// Order represents an order in the system
type Order struct {
	ID                int64               `db:"id" json:"-"`
	OrderNumber       string              `db:"order_number" json:"order_number"`
	CustomerID        string              `db:"customer_id" json:"customer_id"`
	CustomerName      string              `db:"customer_name" json:"customer_name,omitempty"`
	CustomerEmail     string              `db:"customer_email" json:"customer_email,omitempty"`
	Total             decimal.Decimal     `db:"total" json:"total"`
	Status            OrderStatus         `db:"status" json:"status"`
	PaymentStatus     PaymentStatus       `db:"payment_status" json:"payment_status"`
	PaymentMethod     PaymentMethod       `db:"payment_method" json:"payment_method"`
	AdvanceAmount     decimal.NullDecimal `db:"advance_amount" json:"advance_amount"`
	AdvanceVerified   bool                `db:"advance_verified" json:"advance_verified"`
	BillingAddressID  *string             `db:"billing_address_id" json:"billing_address_id,omitempty"`
	ShippingAddressID *string             `db:"shipping_address_id" json:"shipping_address_id,omitempty"`
	ShippingAddress   `json:"shipping_address"`
	TrackingNumber    *string    `db:"tracking_number" json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time `db:"estimated_delivery" json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	Items   []OrderItem `db:"-" json:"items,omitempty"`
	Payment *Payment    `db:"-" json:"payment,omitempty"`
}

// OrderItem is a line of an order with product and price snapshots
type OrderItem struct {
	ID           int64           `db:"id" json:"-"`
	OrderID      int64           `db:"order_id" json:"-"`
	ProductID    string          `db:"product_id" json:"product_id"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ProductImage string          `db:"product_image" json:"product_image,omitempty"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Price        decimal.Decimal `db:"price" json:"price"`
}

// Total is quantity times the unit price snapshot
func (i OrderItem) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MarshalJSON adds the computed total
func (i OrderItem) MarshalJSON() ([]byte, error) {
	type item OrderItem
	return json.Marshal(struct {
		item
		Total decimal.Decimal `json:"total"`
	}{item(i), i.Total()})
}

// ItemsTotal sums the totals of items
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// NewOrder creates a pending order. The total is frozen from the items here.
func NewOrder(customerID string, method PaymentMethod, items []OrderItem, now time.Time) *Order {
	return &Order{
		OrderNumber:   GenerateReference("ORD"),
		CustomerID:    customerID,
		Total:         ItemsTotal(items),
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
		PaymentMethod: method,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
