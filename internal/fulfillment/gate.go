// Package fulfillment decides whether an order may advance to a fulfillment stage.
// The checks are pure; callers gather the snapshot.
package fulfillment

import (
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/models"
)

// Stage is a fulfillment step staff can move an order to
type Stage string

const (
	StageDispatch       Stage = "dispatch"
	StageBillGenerated  Stage = "bill_generated"
	StageOutForDelivery Stage = "out_for_delivery"
)

// ParseStage validates a stage name
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageDispatch, StageBillGenerated, StageOutForDelivery:
		return Stage(s), true
	}
	return "", false
}

// Snapshot is the order state the gate looks at
type Snapshot struct {
	Status             models.OrderStatus
	PaymentStatus      models.PaymentStatus
	PaymentMethod      models.PaymentMethod
	HasInvoice         bool
	HasShipmentDetails bool
}

// SnapshotOf builds a snapshot from an order and the existence of its records
func SnapshotOf(order *models.Order, hasInvoice, hasShipmentDetails bool) Snapshot {
	return Snapshot{
		Status:             order.Status,
		PaymentStatus:      order.PaymentStatus,
		PaymentMethod:      order.PaymentMethod,
		HasInvoice:         hasInvoice,
		HasShipmentDetails: hasShipmentDetails,
	}
}

// Decision is the outcome of Authorize. Reason is empty when allowed.
type Decision struct {
	Stage   Stage  `json:"stage"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func paidAndProcessing(s Snapshot) string {
	if s.Status != models.OrderStatusProcessing {
		return fmt.Sprintf("order status is %s, must be processing", s.Status)
	}
	if s.PaymentStatus != models.PaymentStatusVerified {
		return fmt.Sprintf("payment status is %s, must be verified", s.PaymentStatus)
	}
	return ""
}

func dispatchReason(s Snapshot) string {
	if r := paidAndProcessing(s); r != "" {
		return r
	}
	if s.PaymentMethod != models.PaymentMethodOnline && s.PaymentMethod != models.PaymentMethodCOD {
		return fmt.Sprintf("payment method %s is not eligible for dispatch", s.PaymentMethod)
	}
	return ""
}

func billReason(s Snapshot) string {
	if r := paidAndProcessing(s); r != "" {
		return r
	}
	if !s.HasInvoice {
		return "no invoice generated"
	}
	return ""
}

func outForDeliveryReason(s Snapshot) string {
	if r := paidAndProcessing(s); r != "" {
		return r
	}
	if !s.HasShipmentDetails {
		return "no shipment details recorded"
	}
	return ""
}

// CanMoveToDispatch: processing, verified, and paid online or by COD
func CanMoveToDispatch(s Snapshot) bool {
	return dispatchReason(s) == ""
}

// CanMoveToBillGenerated: processing, verified, and an invoice exists
func CanMoveToBillGenerated(s Snapshot) bool {
	return billReason(s) == ""
}

// CanMoveToOutForDelivery: processing, verified, and shipment details exist
func CanMoveToOutForDelivery(s Snapshot) bool {
	return outForDeliveryReason(s) == ""
}

// Authorize evaluates stage against s
func Authorize(stage Stage, s Snapshot) Decision {
	var reason string

	switch stage {
	case StageDispatch:
		reason = dispatchReason(s)
	case StageBillGenerated:
		reason = billReason(s)
	case StageOutForDelivery:
		reason = outForDeliveryReason(s)
	default:
		reason = fmt.Sprintf("unknown stage %q", stage)
	}

	return Decision{Stage: stage, Allowed: reason == "", Reason: reason}
}
