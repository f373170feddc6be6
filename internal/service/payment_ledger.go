package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// LedgerConfig holds payment creation settings
type LedgerConfig struct {
	CODAdvanceAmount decimal.Decimal
}

// OfflineProof is what a customer submits after a bank transfer
type OfflineProof struct {
	ProofReference       string  `json:"proof_reference"`
	BankName             *string `json:"bank_name,omitempty"`
	AccountNumber        *string `json:"account_number,omitempty"`
	TransactionReference *string `json:"transaction_reference,omitempty"`
	Notes                *string `json:"notes,omitempty"`
}

// PaymentLedger creates payments and attaches their method specific records
type PaymentLedger struct {
	*paymentStore
	cfg LedgerConfig
}

// NewPaymentLedger creates a new PaymentLedger
func NewPaymentLedger(
	db *database.Database,
	orderRepo *repository.OrderRepository,
	paymentRepo *repository.PaymentRepository,
	outboxRepo *repository.OutboxRepository,
	cfg LedgerConfig,
	logger logger.Logger,
) *PaymentLedger {
	return &PaymentLedger{
		paymentStore: &paymentStore{
			db:          db,
			orderRepo:   orderRepo,
			paymentRepo: paymentRepo,
			outboxRepo:  outboxRepo,
			logger:      logger,
			now:         models.GetCurrentTime,
		},
		cfg: cfg,
	}
}

// OpenPaymentInTx creates the pending, active payment of order inside tx.
// Cash on delivery also gets its sub-record and the configured advance stored on the order.
func (l *PaymentLedger) OpenPaymentInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, method models.PaymentMethod, amount decimal.Decimal) (*models.Payment, error) {
	if !method.Valid() {
		return nil, invalidInput("unknown payment method %q", method)
	}

	now := l.now()
	payment := models.NewPayment(order, method, amount, now)

	if err := l.paymentRepo.CreateInTx(ctx, tx, payment); err != nil {
		return nil, err
	}

	if method == models.PaymentMethodCOD {
		detail := &models.CODDetail{
			PaymentID:       payment.ID,
			AdvanceAmount:   l.cfg.CODAdvanceAmount,
			DeliveryCharges: decimal.Zero,
		}
		if err := l.checkDetail(payment, detail); err != nil {
			return nil, err
		}
		if err := l.paymentRepo.CreateCODDetailInTx(ctx, tx, detail); err != nil {
			return nil, err
		}

		advance := l.cfg.CODAdvanceAmount
		if err := l.orderRepo.UpdateInTx(ctx, tx, order.ID, order.Status, repository.OrderUpdate{
			AdvanceAmount: &advance,
			UpdatedAt:     now,
		}); err != nil {
			return nil, err
		}

		order.AdvanceAmount = decimal.NewNullDecimal(advance)
		payment.Detail = detail
	}

	l.logger.Info("Payment opened", "reference", payment.Reference, "orderNumber", order.OrderNumber, "method", method, "amount", amount)
	return payment, nil
}

// AttachGatewayResultInTx records the gateway transaction on an online payment that is still open
func (l *PaymentLedger) AttachGatewayResultInTx(
	ctx context.Context,
	tx *sqlx.Tx,
	payment *models.Payment,
	transactionID, gatewayName string,
	rawResponse json.RawMessage,
) (*models.OnlineDetail, error) {
	detail := &models.OnlineDetail{
		PaymentID:       payment.ID,
		TransactionID:   transactionID,
		GatewayName:     gatewayName,
		GatewayResponse: rawResponse,
	}

	if err := requireMethod(payment, models.PaymentMethodOnline); err != nil {
		return nil, err
	}
	if err := l.checkDetail(payment, detail); err != nil {
		return nil, err
	}
	if err := requireOpen(payment); err != nil {
		return nil, err
	}

	if err := l.paymentRepo.CreateOnlineDetailInTx(ctx, tx, detail); err != nil {
		return nil, err
	}

	payment.Detail = detail
	return detail, nil
}

// AttachOfflineProof creates or replaces the transfer proof of a pending offline payment
func (l *PaymentLedger) AttachOfflineProof(ctx context.Context, reference string, proof OfflineProof) (*models.Payment, error) {
	if strings.TrimSpace(proof.ProofReference) == "" {
		return nil, invalidInput("proof_reference is required")
	}

	return l.withPayment(ctx, reference, func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error) {
		detail := &models.OfflineDetail{
			PaymentID:            p.ID,
			ProofReference:       proof.ProofReference,
			BankName:             proof.BankName,
			AccountNumber:        proof.AccountNumber,
			TransactionReference: proof.TransactionReference,
			Notes:                proof.Notes,
			SubmittedAt:          l.now(),
		}

		if err := requireMethod(p, models.PaymentMethodOffline); err != nil {
			return paymentChange{}, err
		}
		if err := l.checkDetail(p, detail); err != nil {
			return paymentChange{}, err
		}
		if err := requireOpen(p); err != nil {
			return paymentChange{}, err
		}
		if p.Status != models.PaymentStatusPending {
			return paymentChange{}, invalidState("payment %s is %s, proof can only be attached while pending", p.Reference, p.Status)
		}

		if err := l.paymentRepo.UpsertOfflineDetailInTx(ctx, tx, detail); err != nil {
			return paymentChange{}, err
		}

		return paymentChange{event: models.EventOfflineProofAdded, actor: o.CustomerID}, nil
	})
}

// RetryPayment replaces a failed or rejected payment of a pending order with a fresh pending one
func (l *PaymentLedger) RetryPayment(ctx context.Context, orderNumber string) (*models.Payment, error) {
	var result *models.Payment

	err := regenerateOnCollision(ctx, l.logger, func() error {
		return l.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			order, err := l.orderRepo.GetByNumberInTx(ctx, tx, orderNumber)
			if err != nil {
				return lookupErr(err, func() error { return orderNotFound(orderNumber) }, "failed to load order")
			}
			if order.Status != models.OrderStatusPending {
				return invalidState("order %s is %s, payments can only be retried while pending", orderNumber, order.Status)
			}

			previous, err := l.paymentRepo.GetActiveForOrderInTx(ctx, tx, order.ID)
			if err != nil {
				return lookupErr(err, func() error {
					return invalidState("order %s has no active payment", orderNumber)
				}, "failed to load active payment")
			}
			if previous.Status != models.PaymentStatusFailed && previous.Status != models.PaymentStatusRejected {
				return invalidState("payment %s is %s, only failed or rejected payments can be retried", previous.Reference, previous.Status)
			}

			now := l.now()
			if err := l.paymentRepo.DeactivateInTx(ctx, tx, previous.ID, now); err != nil {
				return err
			}

			payment, err := l.OpenPaymentInTx(ctx, tx, order, order.PaymentMethod, order.Total)
			if err != nil {
				return err
			}

			pending := models.PaymentStatusPending
			if err := l.orderRepo.UpdateInTx(ctx, tx, order.ID, models.OrderStatusPending, repository.OrderUpdate{
				PaymentStatus: &pending,
				UpdatedAt:     now,
			}); err != nil {
				return err
			}

			if order, err = l.orderRepo.GetByIDInTx(ctx, tx, order.ID); err != nil {
				return err
			}

			if err := l.emitInTx(ctx, tx, paymentChange{
				event:  models.EventPaymentRetried,
				actor:  order.CustomerID,
				reason: "replaces " + previous.Reference,
			}, order, payment); err != nil {
				return err
			}

			result = payment
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, invalidState("order %s changed concurrently, retry", orderNumber)
		}
		return nil, passThrough("failed to retry payment", err)
	}

	l.logger.Info("Payment retried", "orderNumber", orderNumber, "reference", result.Reference)
	return result, nil
}

// GetPayment returns a payment with its sub-record
func (l *PaymentLedger) GetPayment(ctx context.Context, reference string) (*models.Payment, error) {
	payment, err := l.paymentRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, lookupErr(err, func() error { return paymentNotFound(reference) }, "failed to load payment")
	}
	return payment, nil
}

// ListPayments returns every payment of an order, newest first
func (l *PaymentLedger) ListPayments(ctx context.Context, orderNumber string) ([]*models.Payment, error) {
	order, err := l.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, lookupErr(err, func() error { return orderNotFound(orderNumber) }, "failed to load order")
	}

	payments, err := l.paymentRepo.ListForOrder(ctx, order.ID)
	if err != nil {
		return nil, passThrough("failed to list payments", err)
	}
	return payments, nil
}

// activePayment returns the active payment of order, nil when it has none
func (l *PaymentLedger) activePayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	payment, err := l.paymentRepo.GetActiveForOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return payment, err
}

func (l *PaymentLedger) activePaymentInTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error) {
	payment, err := l.paymentRepo.GetActiveForOrderInTx(ctx, tx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return payment, err
}
