package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTypeMismatch is returned when a payment sub-record does not match the payment type
var ErrTypeMismatch = errors.New("payment detail type mismatch")

// RefundStatus tracks a gateway refund
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Valid reports whether s is a known refund status
func (s RefundStatus) Valid() bool {
	return s == RefundStatusPending || s == RefundStatusProcessed || s == RefundStatusFailed
}

// Payment is one settlement attempt for an order
type Payment struct {
	ID             int64           `db:"id" json:"-"`
	Reference      string          `db:"reference" json:"reference"`
	OrderID        int64           `db:"order_id" json:"-"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	PaymentType    PaymentMethod   `db:"payment_type" json:"payment_type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Status         PaymentStatus   `db:"status" json:"status"`
	Active         bool            `db:"active" json:"active"`
	GatewayOrderID *string         `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	VerifiedBy     *string         `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	FailureReason  *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Detail PaymentDetail `db:"-" json:"detail,omitempty"`
}

// NewPayment creates a pending, active payment for order
func NewPayment(order *Order, method PaymentMethod, amount decimal.Decimal, now time.Time) *Payment {
	return &Payment{
		Reference:   GenerateReference("PAY"),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		PaymentType: method,
		Amount:      amount,
		Status:      PaymentStatusPending,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PaymentDetail is the method specific sub-record of a payment.
// Implemented only by OnlineDetail, OfflineDetail and CODDetail.
type PaymentDetail interface {
	Method() PaymentMethod
	paymentDetail()
}

// OnlineDetail records the gateway side of an online payment
type OnlineDetail struct {
	PaymentID       int64               `db:"payment_id" json:"-"`
	TransactionID   string              `db:"transaction_id" json:"transaction_id"`
	GatewayName     string              `db:"gateway_name" json:"gateway_name"`
	GatewayResponse json.RawMessage     `db:"-" json:"gateway_response,omitempty"`
	RefundID        *string             `db:"refund_id" json:"refund_id,omitempty"`
	RefundAmount    decimal.NullDecimal `db:"refund_amount" json:"refund_amount"`
	RefundStatus    *RefundStatus       `db:"refund_status" json:"refund_status,omitempty"`
}

// OfflineDetail records a bank transfer proof
type OfflineDetail struct {
	PaymentID            int64     `db:"payment_id" json:"-"`
	ProofReference       string    `db:"proof_reference" json:"proof_reference"`
	BankName             *string   `db:"bank_name" json:"bank_name,omitempty"`
	AccountNumber        *string   `db:"account_number" json:"account_number,omitempty"`
	TransactionReference *string   `db:"transaction_reference" json:"transaction_reference,omitempty"`
	Notes                *string   `db:"notes" json:"notes,omitempty"`
	SubmittedAt          time.Time `db:"submitted_at" json:"submitted_at"`
}

// CODDetail records the advance and the collection of a cash-on-delivery payment
type CODDetail struct {
	PaymentID             int64               `db:"payment_id" json:"-"`
	AdvanceAmount         decimal.Decimal     `db:"advance_amount" json:"advance_amount"`
	AdvanceVerified       bool                `db:"advance_verified" json:"advance_verified"`
	AdvanceProofReference *string             `db:"advance_proof_reference" json:"advance_proof_reference,omitempty"`
	DeliveryCharges       decimal.Decimal     `db:"delivery_charges" json:"delivery_charges"`
	AdvanceVerifiedBy     *string             `db:"advance_verified_by" json:"advance_verified_by,omitempty"`
	AdvanceVerifiedAt     *time.Time          `db:"advance_verified_at" json:"advance_verified_at,omitempty"`
	CollectedAmount       decimal.NullDecimal `db:"collected_amount" json:"collected_amount"`
	CollectedAt           *time.Time          `db:"collected_at" json:"collected_at,omitempty"`
	Notes                 *string             `db:"notes" json:"notes,omitempty"`
}

func (*OnlineDetail) Method() PaymentMethod  { return PaymentMethodOnline }
func (*OfflineDetail) Method() PaymentMethod { return PaymentMethodOffline }
func (*CODDetail) Method() PaymentMethod     { return PaymentMethodCOD }

func (*OnlineDetail) paymentDetail()  {}
func (*OfflineDetail) paymentDetail() {}
func (*CODDetail) paymentDetail()     {}

// UnmarshalJSON decodes detail into the sub-record type of payment_type
func (p *Payment) UnmarshalJSON(data []byte) error {
	type plain Payment
	aux := struct {
		*plain
		Detail json.RawMessage `json:"detail"`
	}{plain: (*plain)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.Detail = nil
	if len(aux.Detail) == 0 || string(aux.Detail) == "null" {
		return nil
	}

	var d PaymentDetail
	switch p.PaymentType {
	case PaymentMethodOnline:
		d = &OnlineDetail{}
	case PaymentMethodOffline:
		d = &OfflineDetail{}
	case PaymentMethodCOD:
		d = &CODDetail{}
	default:
		return fmt.Errorf("%w: unknown payment type %q", ErrTypeMismatch, p.PaymentType)
	}
	if err := json.Unmarshal(aux.Detail, d); err != nil {
		return fmt.Errorf("payment %s detail: %w", p.Reference, err)
	}
	p.Detail = d
	return nil
}

// CheckDetail returns ErrTypeMismatch when d cannot belong to p
func (p *Payment) CheckDetail(d PaymentDetail) error {
	if d == nil || d.Method() == p.PaymentType {
		return nil
	}
	return fmt.Errorf("%w: payment %s is %s, detail is %s", ErrTypeMismatch, p.Reference, p.PaymentType, d.Method())
}

// Online returns the online sub-record when present
func (p *Payment) Online() (*OnlineDetail, bool) {
	d, ok := p.Detail.(*OnlineDetail)
	return d, ok
}

// Offline returns the offline sub-record when present
func (p *Payment) Offline() (*OfflineDetail, bool) {
	d, ok := p.Detail.(*OfflineDetail)
	return d, ok
}

// COD returns the cash-on-delivery sub-record when present
func (p *Payment) COD() (*CODDetail, bool) {
	d, ok := p.Detail.(*CODDetail)
	return d, ok
}
