package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// keyAttempts bounds how often a transaction is rerun after its generated order
// number or payment reference collided with an existing one
const keyAttempts = 3

// regenerateOnCollision reruns fn while it fails with repository.ErrDuplicateKey.
// fn must generate fresh keys on every run.
func regenerateOnCollision(ctx context.Context, log logger.Logger, fn func() error) error {
	return retry.Retry(ctx, fn, &retry.RetryConfig{
		MaxAttempts:     keyAttempts,
		BackoffStrategy: &retry.ConstantBackoff{},
		Logger:          log,
		RetryableErrors: []error{repository.ErrDuplicateKey},
	})
}

// paymentStore is the transactional plumbing shared by the ledger and the verification engine
type paymentStore struct {
	db          *database.Database
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	outboxRepo  *repository.OutboxRepository
	logger      logger.Logger
	now         func() time.Time
}

// paymentChange describes the outbox event a payment mutation produced. An empty event writes nothing.
type paymentChange struct {
	event     string
	actor     string
	reason    string
	oldStatus models.OrderStatus
}

// withPayment loads the payment and its order inside a transaction and runs fn.
// The reloaded payment and order go into the outbox event, committed with fn's writes.
// A lost check-and-set is reported as AlreadyFinalized when the payment has since been finalized.
func (s *paymentStore) withPayment(
	ctx context.Context,
	reference string,
	fn func(tx *sqlx.Tx, p *models.Payment, o *models.Order) (paymentChange, error),
) (*models.Payment, error) {
	var result, loaded *models.Payment

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.paymentRepo.GetByReferenceInTx(ctx, tx, reference)
		if err != nil {
			return lookupErr(err, func() error { return paymentNotFound(reference) }, "failed to load payment")
		}
		snapshot := *p
		loaded = &snapshot

		o, err := s.orderRepo.GetByIDInTx(ctx, tx, p.OrderID)
		if err != nil {
			return passThrough("failed to load order for payment", err)
		}

		change, err := fn(tx, p, o)
		if err != nil {
			return err
		}

		if p, err = s.paymentRepo.GetByIDInTx(ctx, tx, p.ID); err != nil {
			return err
		}
		if o, err = s.orderRepo.GetByIDInTx(ctx, tx, o.ID); err != nil {
			return err
		}

		if change.event != "" {
			if err := s.emitInTx(ctx, tx, change, o, p); err != nil {
				return err
			}
		}

		result = p
		return nil
	})

	if err == nil {
		return result, nil
	}

	if errors.Is(err, repository.ErrStale) {
		current, lerr := s.paymentRepo.GetByReference(ctx, reference)
		if lerr != nil {
			return nil, apperrors.NewConflictError(fmt.Sprintf("payment %s changed concurrently, retry", reference))
		}
		if current.Status.IsTerminal() {
			s.logger.Info("Payment finalized by a concurrent caller", "reference", reference, "status", current.Status)
			return nil, withCurrent(alreadyFinalized(current), current)
		}
		return nil, withCurrent(apperrors.NewConflictError(fmt.Sprintf("payment %s changed concurrently, retry", reference)), current)
	}

	return nil, withCurrent(passThrough("payment update failed", err), loaded)
}

func (s *paymentStore) emitInTx(ctx context.Context, tx *sqlx.Tx, change paymentChange, o *models.Order, p *models.Payment) error {
	msg, err := models.NewOrderEvent(change.event, models.OrderEventData{
		Order:     o,
		Payment:   p,
		OldStatus: string(change.oldStatus),
		Actor:     change.actor,
		Reason:    change.reason,
	}, s.now())
	if err != nil {
		s.logger.Error("Failed to create outbox message", "error", err, "eventType", change.event)
		return internalErr("failed to create outbox message", err)
	}

	return s.outboxRepo.CreateInTx(ctx, tx, msg)
}

// checkDetail rejects a sub-record whose method differs from the payment's type
func (s *paymentStore) checkDetail(p *models.Payment, d models.PaymentDetail) error {
	if err := p.CheckDetail(d); err != nil {
		s.logger.Error("Payment detail type mismatch", "error", err, "reference", p.Reference, "paymentType", p.PaymentType)
		return internalErr(err.Error(), err).WithCode(apperrors.CodeTypeMismatch)
	}
	return nil
}

func requireMethod(p *models.Payment, method models.PaymentMethod) error {
	if p.PaymentType != method {
		return invalidInput("payment %s is a %s payment, not %s", p.Reference, p.PaymentType, method)
	}
	return nil
}

func requireOpen(p *models.Payment) error {
	if p.Status.IsTerminal() {
		return alreadyFinalized(p)
	}
	return nil
}
