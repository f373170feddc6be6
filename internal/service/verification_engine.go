package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

const defaultVerifyTimeout = 10 * time.Second

// EngineConfig holds gateway settings for verification
type EngineConfig struct {
	GatewayName   string
	VerifyTimeout time.Duration
}

// GatewayConfirmation is what the client relays after a gateway checkout.
// PaymentReference may be empty when the gateway order id identifies the payment.
type GatewayConfirmation struct {
	PaymentReference string          `json:"payment_reference,omitempty"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature"`
	RawResponse      json.RawMessage `json:"raw_response,omitempty"`
}

// Refund is a refund reported by the gateway
type Refund struct {
	ID     string              `json:"refund_id"`
	Amount decimal.Decimal     `json:"amount"`
	Status models.RefundStatus `json:"status"`
}

// VerificationEngine moves payments to their final states. Every transition is a
// check-and-set on the payment status, committed with the order update and its outbox event.
type VerificationEngine struct {
	*paymentStore
	ledger   *PaymentLedger
	verifier GatewayVerifier
	cfg      EngineConfig
}

// NewVerificationEngine creates a VerificationEngine sharing the ledger's store
func NewVerificationEngine(ledger *PaymentLedger, verifier GatewayVerifier, cfg EngineConfig) *VerificationEngine {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}
	if cfg.GatewayName == "" {
		cfg.GatewayName = "gateway"
	}

	return &VerificationEngine{
		paymentStore: ledger.paymentStore,
		ledger:       ledger,
		verifier:     verifier,
		cfg:          cfg,
	}
}

func (e *VerificationEngine) verifiedBy(actor string, now time.Time) repository.PaymentTransition {
	return repository.PaymentTransition{
		Status:     models.PaymentStatusVerified,
		VerifiedBy: &actor,
		VerifiedAt: &now,
		UpdatedAt:  now,
	}
}

// markOrderPaid moves a pending order to processing with a verified payment
func (e *VerificationEngine) markOrderPaid(ctx context.Context, tx *sqlx.Tx, o *models.Order, now time.Time) error {
	if o.Status != models.OrderStatusPending {
		return invalidState("order %s is %s, expected pending", o.OrderNumber, o.Status)
	}

	processing := models.OrderStatusProcessing
	verified := models.PaymentStatusVerified
	return e.orderRepo.UpdateInTx(ctx, tx, o.ID, models.OrderStatusPending, repository.OrderUpdate{
		Status:        &processing,
		PaymentStatus: &verified,
		UpdatedAt:     now,
	})
}

func (e *VerificationEngine) setOrderPaymentStatus(ctx context.Context, tx *sqlx.Tx, o *models.Order, status models.PaymentStatus, now time.Time) error {
	return e.orderRepo.UpdateInTx(ctx, tx, o.ID, o.Status, repository.OrderUpdate{
		PaymentStatus: &status,
		UpdatedAt:     now,
	})
}

func requireActor(role, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return invalidInput("%s is required", role)
	}
	return nil
}

// StartOnlineCheckout records the gateway order a pending online payment was handed to
func (e *VerificationEngine) StartOnlineCheckout(ctx context.Context, reference, gatewayOrderID string) (*models.Payment, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return nil, invalidInput("gateway_order_id is required")
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodOnline); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}
		if p.Status != models.PaymentStatusPending {
			return paymentChange{}, invalidState("payment %s is already %s", p.Reference, p.Status)
		}
		if o.Status != models.OrderStatusPending {
			return paymentChange{}, invalidState("order %s is %s, expected pending", o.OrderNumber, o.Status)
		}

		now := e.now()
		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID, []models.PaymentStatus{models.PaymentStatusPending},
			repository.PaymentTransition{
				Status:         models.PaymentStatusProcessing,
				GatewayOrderID: &gatewayOrderID,
				UpdatedAt:      now,
			}); err != nil {
			return paymentChange{}, err
		}
		if err := e.setOrderPaymentStatus(ctx, tx, o, models.PaymentStatusProcessing, now); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventPaymentProcessing, actor: o.CustomerID}, nil
	})
}

// ConfirmGatewayPayment verifies the gateway signature and, when authentic, marks the payment verified.
// The verifier runs outside the transaction and is never retried here.
func (e *VerificationEngine) ConfirmGatewayPayment(ctx context.Context, c GatewayConfirmation) (*models.Payment, error) {
	if c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" {
		return nil, invalidInput("gateway_order_id, gateway_payment_id and signature are required")
	}

	payment, err := e.findForConfirmation(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := requireMethod(payment, models.PaymentMethodOnline); err != nil {
		return nil, withCurrent(err, payment)
	}
	if err := requireOpen(payment); err != nil {
		return nil, withCurrent(err, payment)
	}
	if payment.GatewayOrderID != nil && *payment.GatewayOrderID != c.GatewayOrderID {
		return nil, withCurrent(invalidInput("gateway order %s does not belong to payment %s", c.GatewayOrderID, payment.Reference), payment)
	}

	if err := e.verifySignature(ctx, c); err != nil {
		return nil, withCurrent(err, payment)
	}

	actor := "gateway:" + e.cfg.GatewayName

	return e.withPayment(ctx, payment.Reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}
		if _, err := e.ledger.AttachGatewayResultInTx(ctx, tx, p, c.GatewayPaymentID, e.cfg.GatewayName, c.RawResponse); err != nil {
			return paymentChange{}, err
		}

		now := e.now()
		t := e.verifiedBy(actor, now)
		if p.GatewayOrderID == nil {
			t.GatewayOrderID = &c.GatewayOrderID
		}

		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing}, t); err != nil {
			return paymentChange{}, err
		}
		if err := e.markOrderPaid(ctx, tx, o, now); err != nil {
			return paymentChange{}, err
		}

		e.logger.Info("Gateway payment verified", "reference", p.Reference, "transactionID", c.GatewayPaymentID)
		return paymentChange{event: models.EventPaymentVerified, actor: actor, oldStatus: o.Status}, nil
	})
}

func (e *VerificationEngine) findForConfirmation(ctx context.Context, c GatewayConfirmation) (*models.Payment, error) {
	if c.PaymentReference != "" {
		return e.ledger.GetPayment(ctx, c.PaymentReference)
	}

	payment, err := e.paymentRepo.GetByGatewayOrderID(ctx, c.GatewayOrderID)
	if err != nil {
		return nil, lookupErr(err, func() error {
			return apperrors.NewNotFoundError(fmt.Sprintf("no payment for gateway order %s", c.GatewayOrderID)).
				WithCode(apperrors.CodePaymentNotFound)
		}, "failed to load payment")
	}
	return payment, nil
}

type verifyResult struct {
	ok  bool
	err error
}

// verifySignature bounds the verifier by the configured timeout even if it ignores its context
func (e *VerificationEngine) verifySignature(ctx context.Context, c GatewayConfirmation) error {
	vctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
	defer cancel()

	done := make(chan verifyResult, 1)
	go func() {
		ok, err := e.verifier.Verify(vctx, c.GatewayOrderID, c.GatewayPaymentID, c.Signature)
		done <- verifyResult{ok: ok, err: err}
	}()

	var res verifyResult
	select {
	case res = <-done:
	case <-vctx.Done():
		res = verifyResult{err: vctx.Err()}
	}

	if res.err != nil {
		e.logger.Warn("Gateway verification unavailable", "error", res.err, "gatewayOrderID", c.GatewayOrderID)
		if errors.Is(res.err, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError("gateway verification timed out").
				WithContext("gateway_order_id", c.GatewayOrderID)
		}
		return apperrors.NewExternalError("gateway verification failed", res.err).
			WithContext("gateway_order_id", c.GatewayOrderID)
	}

	if !res.ok {
		e.logger.Warn("Gateway signature rejected", "gatewayOrderID", c.GatewayOrderID, "gatewayPaymentID", c.GatewayPaymentID)
		return apperrors.NewInvalidInputError("payment signature is not authentic").
			WithCode(apperrors.CodeSignatureInvalid)
	}
	return nil
}

// RecordGatewayFailure marks an open online payment failed
func (e *VerificationEngine) RecordGatewayFailure(ctx context.Context, reference, reason string) (*models.Payment, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "gateway reported failure"
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodOnline); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}

		now := e.now()
		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing},
			repository.PaymentTransition{
				Status:        models.PaymentStatusFailed,
				FailureReason: &reason,
				UpdatedAt:     now,
			}); err != nil {
			return paymentChange{}, err
		}
		if err := e.setOrderPaymentStatus(ctx, tx, o, models.PaymentStatusFailed, now); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventPaymentFailed, actor: "gateway:" + e.cfg.GatewayName, reason: reason}, nil
	})
}

// VerifyOfflinePayment accepts the transfer proof of a pending offline payment
func (e *VerificationEngine) VerifyOfflinePayment(ctx context.Context, reference, staff string) (*models.Payment, error) {
	if err := requireActor("staff", staff); err != nil {
		return nil, err
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodOffline); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}
		if _, ok := p.Offline(); !ok {
			return paymentChange{}, invalidState("payment %s has no transfer proof", p.Reference)
		}

		now := e.now()
		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending}, e.verifiedBy(staff, now)); err != nil {
			return paymentChange{}, err
		}
		if err := e.markOrderPaid(ctx, tx, o, now); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventPaymentVerified, actor: staff, oldStatus: o.Status}, nil
	})
}

// RejectOfflinePayment rejects a pending offline payment. The order status is left alone.
func (e *VerificationEngine) RejectOfflinePayment(ctx context.Context, reference, staff, reason string) (*models.Payment, error) {
	if err := requireActor("staff", staff); err != nil {
		return nil, err
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodOffline); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}

		now := e.now()
		t := repository.PaymentTransition{
			Status:     models.PaymentStatusRejected,
			VerifiedBy: &staff,
			VerifiedAt: &now,
			UpdatedAt:  now,
		}
		if reason != "" {
			t.FailureReason = &reason
		}

		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID, []models.PaymentStatus{models.PaymentStatusPending}, t); err != nil {
			return paymentChange{}, err
		}
		if err := e.setOrderPaymentStatus(ctx, tx, o, models.PaymentStatusFailed, now); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventPaymentRejected, actor: staff, reason: reason}, nil
	})
}

// VerifyCODAdvance confirms the advance of a cash-on-delivery payment
func (e *VerificationEngine) VerifyCODAdvance(ctx context.Context, reference, staff string) (*models.Payment, error) {
	if err := requireActor("staff", staff); err != nil {
		return nil, err
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodCOD); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}

		detail, ok := p.COD()
		if !ok {
			return paymentChange{}, invalidState("payment %s has no cash-on-delivery record", p.Reference)
		}

		advanceDone := apperrors.NewConflictError(fmt.Sprintf("advance of payment %s is already verified", p.Reference)).
			WithCode(apperrors.CodeAlreadyFinalized)
		if detail.AdvanceVerified {
			return paymentChange{}, advanceDone
		}

		now := e.now()
		if err := e.paymentRepo.VerifyCODAdvanceInTx(ctx, tx, p.ID, staff, now); err != nil {
			if errors.Is(err, repository.ErrStale) {
				return paymentChange{}, advanceDone
			}
			return paymentChange{}, err
		}
		if err := e.orderRepo.UpdateInTx(ctx, tx, o.ID, o.Status, repository.OrderUpdate{UpdatedAt: now}); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventCODAdvanceVerified, actor: staff}, nil
	})
}

// VerifyCODPayment verifies a cash-on-delivery payment whose advance is confirmed
func (e *VerificationEngine) VerifyCODPayment(ctx context.Context, reference, staff string) (*models.Payment, error) {
	if err := requireActor("staff", staff); err != nil {
		return nil, err
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodCOD); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}
		if detail, ok := p.COD(); !ok || !detail.AdvanceVerified {
			return paymentChange{}, invalidState("advance of payment %s is not verified", p.Reference)
		}

		now := e.now()
		if err := e.paymentRepo.TransitionInTx(ctx, tx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending}, e.verifiedBy(staff, now)); err != nil {
			return paymentChange{}, err
		}
		if err := e.markOrderPaid(ctx, tx, o, now); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventPaymentVerified, actor: staff, oldStatus: o.Status}, nil
	})
}

// RecordCODCollection stores what was collected on delivery of a verified cash-on-delivery payment
func (e *VerificationEngine) RecordCODCollection(ctx context.Context, reference string, amount decimal.Decimal, notes *string) (*models.Payment, error) {
	if !amount.IsPositive() {
		return nil, invalidInput("collected amount must be positive")
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if err := requireMethod(p, models.PaymentMethodCOD); err != nil {
			return paymentChange{}, err
		}
		if p.Status != models.PaymentStatusVerified {
			return paymentChange{}, invalidState("payment %s is %s, collection needs a verified payment", p.Reference, p.Status)
		}

		if err := e.paymentRepo.RecordCODCollectionInTx(ctx, tx, p.ID, amount, notes, e.now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return paymentChange{}, invalidState("payment %s has no cash-on-delivery record", p.Reference)
			}
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventCODCollected}, nil
	})
}

// RecordRefund stores a gateway refund on an online payment. The payment status does not change.
func (e *VerificationEngine) RecordRefund(ctx context.Context, reference string, refund Refund) (*models.Payment, error) {
	if strings.TrimSpace(refund.ID) == "" {
		return nil, invalidInput("refund_id is required")
	}
	if !refund.Amount.IsPositive() {
		return nil, invalidInput("refund amount must be positive")
	}
	if refund.Status == "" {
		refund.Status = models.RefundStatusPending
	}
	if !refund.Status.Valid() {
		return nil, invalidInput("unknown refund status %q", refund.Status)
	}

	return e.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		if _, ok := p.Online(); !ok {
			return paymentChange{}, invalidState("payment %s has no gateway transaction", p.Reference)
		}
		if refund.Amount.GreaterThan(p.Amount) {
			return paymentChange{}, invalidInput("refund %s exceeds payment amount %s", refund.Amount.StringFixed(2), p.Amount.StringFixed(2))
		}

		if err := e.paymentRepo.UpdateRefundInTx(ctx, tx, p.ID, refund.ID, refund.Amount, refund.Status); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventRefundRecorded, reason: refund.ID}, nil
	})
}
