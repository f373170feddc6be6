package fulfillment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaidashi/storefront-orders/internal/models"
)

func ready() Snapshot {
	return Snapshot{
		Status:             models.OrderStatusProcessing,
		PaymentStatus:      models.PaymentStatusVerified,
		PaymentMethod:      models.PaymentMethodOnline,
		HasInvoice:         true,
		HasShipmentDetails: true,
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Snapshot)
		dispatch bool
		bill     bool
		outFor   bool
	}{
		{"all satisfied", func(*Snapshot) {}, true, true, true},
		{"pending order", func(s *Snapshot) { s.Status = models.OrderStatusPending }, false, false, false},
		{"unverified payment", func(s *Snapshot) { s.PaymentStatus = models.PaymentStatusProcessing }, false, false, false},
		{"offline method", func(s *Snapshot) { s.PaymentMethod = models.PaymentMethodOffline }, false, true, true},
		{"cod method", func(s *Snapshot) { s.PaymentMethod = models.PaymentMethodCOD }, true, true, true},
		{"no invoice", func(s *Snapshot) { s.HasInvoice = false }, true, false, true},
		{"no shipment details", func(s *Snapshot) { s.HasShipmentDetails = false }, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ready()
			tt.mutate(&s)

			assert.Equal(t, tt.dispatch, CanMoveToDispatch(s))
			assert.Equal(t, tt.bill, CanMoveToBillGenerated(s))
			assert.Equal(t, tt.outFor, CanMoveToOutForDelivery(s))
		})
	}
}

func TestAuthorize_Reasons(t *testing.T) {
	s := ready()
	s.HasShipmentDetails = false

	d := Authorize(StageOutForDelivery, s)
	assert.False(t, d.Allowed)
	assert.Equal(t, "no shipment details recorded", d.Reason)

	d = Authorize(StageBillGenerated, s)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)

	d = Authorize(Stage("teleport"), s)
	assert.False(t, d.Allowed)
}

func TestParseStage(t *testing.T) {
	stage, ok := ParseStage("bill_generated")
	assert.True(t, ok)
	assert.Equal(t, StageBillGenerated, stage)

	_, ok = ParseStage("shipped")
	assert.False(t, ok)
}
