package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const paymentColumns = `
	p.id, p.reference, p.order_id, o.order_number, p.payment_type, p.amount, p.status, p.active,
	p.gateway_order_id, p.verified_by, p.verified_at, p.failure_reason, p.created_at, p.updated_at`

// PaymentTransition is the set of columns written by a payment state change
type PaymentTransition struct {
	Status         models.PaymentStatus
	VerifiedBy     *string
	VerifiedAt     *time.Time
	FailureReason  *string
	GatewayOrderID *string
	UpdatedAt      time.Time
}

// PaymentRepository handles database operations for payments and their sub-records
type PaymentRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *database.Database, logger logger.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx inserts a payment row
func (r *PaymentRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := tx.Rebind(`
		INSERT INTO payments (
			reference, order_id, payment_type, amount, status, active,
			gateway_order_id, verified_by, verified_at, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := tx.QueryRowxContext(ctx, query,
		payment.Reference,
		payment.OrderID,
		payment.PaymentType,
		payment.Amount,
		payment.Status,
		payment.Active,
		payment.GatewayOrderID,
		payment.VerifiedBy,
		payment.VerifiedAt,
		payment.FailureReason,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Scan(&payment.ID)
	if err != nil {
		if isKeyCollision(err, "reference") {
			r.logger.Warn("Payment reference already taken", "reference", payment.Reference)
			return fmt.Errorf("%w: payment reference %s", ErrDuplicateKey, payment.Reference)
		}
		r.logger.Error("Failed to create payment", "error", err, "reference", payment.Reference, "orderID", payment.OrderID)
		return dbErr(err)
	}

	return nil
}

// GetByReference retrieves a payment and its sub-record
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.getOne(ctx, r.db.DB, "p.reference = ?", reference)
}

// GetByReferenceInTx is GetByReference inside tx
func (r *PaymentRepository) GetByReferenceInTx(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Payment, error) {
	return r.getOne(ctx, tx, "p.reference = ?", reference)
}

// GetByIDInTx retrieves a payment by internal id inside tx
func (r *PaymentRepository) GetByIDInTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Payment, error) {
	return r.getOne(ctx, tx, "p.id = ?", id)
}

// GetActiveForOrder returns the active payment of an order
func (r *PaymentRepository) GetActiveForOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	return r.getOne(ctx, r.db.DB, "p.order_id = ? AND p.active", orderID)
}

// GetActiveForOrderInTx is GetActiveForOrder inside tx
func (r *PaymentRepository) GetActiveForOrderInTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error) {
	return r.getOne(ctx, tx, "p.order_id = ? AND p.active", orderID)
}

// GetByGatewayOrderID returns the payment a gateway checkout was opened for
func (r *PaymentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	return r.getOne(ctx, r.db.DB, "p.gateway_order_id = ?", gatewayOrderID)
}

func (r *PaymentRepository) getOne(ctx context.Context, q sqlx.ExtContext, cond string, arg interface{}) (*models.Payment, error) {
	query := q.Rebind(`SELECT ` + paymentColumns + `
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE ` + cond + `
		ORDER BY p.id DESC
		LIMIT 1`)

	var payment models.Payment
	if err := sqlx.GetContext(ctx, q, &payment, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get payment", "error", err, "condition", cond, "value", arg)
		return nil, dbErr(err)
	}

	if err := r.loadDetail(ctx, q, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListForOrder returns every payment of an order, newest first
func (r *PaymentRepository) ListForOrder(ctx context.Context, orderID int64) ([]*models.Payment, error) {
	query := r.db.Rebind(`SELECT ` + paymentColumns + `
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE p.order_id = ?
		ORDER BY p.id DESC`)

	var payments []*models.Payment
	if err := r.db.DB.SelectContext(ctx, &payments, query, orderID); err != nil {
		r.logger.Error("Failed to list payments", "error", err, "orderID", orderID)
		return nil, dbErr(err)
	}

	for _, p := range payments {
		if err := r.loadDetail(ctx, r.db.DB, p); err != nil {
			return nil, err
		}
	}
	return payments, nil
}

type onlineRow struct {
	models.OnlineDetail
	GatewayResponse *string `db:"gateway_response"`
}

func (r *PaymentRepository) loadDetail(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error {
	var (
		detail models.PaymentDetail
		err    error
	)

	switch payment.PaymentType {
	case models.PaymentMethodOnline:
		var row onlineRow
		err = sqlx.GetContext(ctx, q, &row, q.Rebind(`
			SELECT payment_id, transaction_id, gateway_name, gateway_response, refund_id, refund_amount, refund_status
			FROM payment_online WHERE payment_id = ?`), payment.ID)
		if err == nil {
			if row.GatewayResponse != nil {
				row.OnlineDetail.GatewayResponse = json.RawMessage(*row.GatewayResponse)
			}
			detail = &row.OnlineDetail
		}
	case models.PaymentMethodOffline:
		var d models.OfflineDetail
		err = sqlx.GetContext(ctx, q, &d, q.Rebind(`
			SELECT payment_id, proof_reference, bank_name, account_number, transaction_reference, notes, submitted_at
			FROM payment_offline WHERE payment_id = ?`), payment.ID)
		if err == nil {
			detail = &d
		}
	case models.PaymentMethodCOD:
		var d models.CODDetail
		err = sqlx.GetContext(ctx, q, &d, q.Rebind(`
			SELECT payment_id, advance_amount, advance_verified, advance_proof_reference, delivery_charges,
				advance_verified_by, advance_verified_at, collected_amount, collected_at, notes
			FROM payment_cod WHERE payment_id = ?`), payment.ID)
		if err == nil {
			detail = &d
		}
	default:
		return fmt.Errorf("%w: unknown payment type %q", models.ErrTypeMismatch, payment.PaymentType)
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			payment.Detail = nil
			return nil
		}
		r.logger.Error("Failed to load payment detail", "error", err, "reference", payment.Reference)
		return dbErr(err)
	}

	payment.Detail = detail
	return nil
}

// TransitionInTx moves the payment to t.Status when its current status is one of from.
// Returns ErrStale when another writer got there first.
func (r *PaymentRepository) TransitionInTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, from []models.PaymentStatus, t PaymentTransition) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{t.Status, t.UpdatedAt}

	if t.VerifiedBy != nil {
		sets = append(sets, "verified_by = ?")
		args = append(args, *t.VerifiedBy)
	}
	if t.VerifiedAt != nil {
		sets = append(sets, "verified_at = ?")
		args = append(args, *t.VerifiedAt)
	}
	if t.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *t.FailureReason)
	}
	if t.GatewayOrderID != nil {
		sets = append(sets, "gateway_order_id = ?")
		args = append(args, *t.GatewayOrderID)
	}

	args = append(args, paymentID)
	for _, s := range from {
		args = append(args, s)
	}

	query := tx.Rebind(`UPDATE payments SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to transition payment", "error", err, "paymentID", paymentID, "to", t.Status)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// DeactivateInTx clears the active flag so a new payment can be opened for the order
func (r *PaymentRepository) DeactivateInTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, now time.Time) error {
	query := tx.Rebind(`UPDATE payments SET active = ?, updated_at = ? WHERE id = ? AND active`)

	result, err := tx.ExecContext(ctx, query, false, now, paymentID)
	if err != nil {
		r.logger.Error("Failed to deactivate payment", "error", err, "paymentID", paymentID)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// CreateOnlineDetailInTx inserts the online sub-record
func (r *PaymentRepository) CreateOnlineDetailInTx(ctx context.Context, tx *sqlx.Tx, d *models.OnlineDetail) error {
	query := tx.Rebind(`
		INSERT INTO payment_online (payment_id, transaction_id, gateway_name, gateway_response, refund_id, refund_amount, refund_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	var raw *string
	if len(d.GatewayResponse) > 0 {
		s := string(d.GatewayResponse)
		raw = &s
	}

	if _, err := tx.ExecContext(ctx, query,
		d.PaymentID, d.TransactionID, d.GatewayName, raw, d.RefundID, d.RefundAmount, d.RefundStatus); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s already recorded", ErrStale, d.TransactionID)
		}
		r.logger.Error("Failed to create online payment detail", "error", err, "paymentID", d.PaymentID)
		return dbErr(err)
	}
	return nil
}

// UpdateRefundInTx records refund fields on the online sub-record
func (r *PaymentRepository) UpdateRefundInTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, refundID string, amount decimal.Decimal, status models.RefundStatus) error {
	query := tx.Rebind(`UPDATE payment_online SET refund_id = ?, refund_amount = ?, refund_status = ? WHERE payment_id = ?`)

	result, err := tx.ExecContext(ctx, query, refundID, amount, status, paymentID)
	if err != nil {
		r.logger.Error("Failed to record refund", "error", err, "paymentID", paymentID)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertOfflineDetailInTx creates or replaces the offline sub-record
func (r *PaymentRepository) UpsertOfflineDetailInTx(ctx context.Context, tx *sqlx.Tx, d *models.OfflineDetail) error {
	query := tx.Rebind(`
		INSERT INTO payment_offline (payment_id, proof_reference, bank_name, account_number, transaction_reference, notes, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_id) DO UPDATE SET
			proof_reference = excluded.proof_reference,
			bank_name = excluded.bank_name,
			account_number = excluded.account_number,
			transaction_reference = excluded.transaction_reference,
			notes = excluded.notes,
			submitted_at = excluded.submitted_at
	`)

	if _, err := tx.ExecContext(ctx, query,
		d.PaymentID, d.ProofReference, d.BankName, d.AccountNumber, d.TransactionReference, d.Notes, d.SubmittedAt); err != nil {
		r.logger.Error("Failed to save offline payment detail", "error", err, "paymentID", d.PaymentID)
		return dbErr(err)
	}
	return nil
}

// CreateCODDetailInTx inserts the cash-on-delivery sub-record
func (r *PaymentRepository) CreateCODDetailInTx(ctx context.Context, tx *sqlx.Tx, d *models.CODDetail) error {
	query := tx.Rebind(`
		INSERT INTO payment_cod (payment_id, advance_amount, advance_verified, advance_proof_reference, delivery_charges, notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	if _, err := tx.ExecContext(ctx, query,
		d.PaymentID, d.AdvanceAmount, d.AdvanceVerified, d.AdvanceProofReference, d.DeliveryCharges, d.Notes); err != nil {
		r.logger.Error("Failed to create COD payment detail", "error", err, "paymentID", d.PaymentID)
		return dbErr(err)
	}
	return nil
}

// VerifyCODAdvanceInTx flips advance_verified when it is still false. Returns ErrStale otherwise.
func (r *PaymentRepository) VerifyCODAdvanceInTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, staff string, now time.Time) error {
	query := tx.Rebind(`
		UPDATE payment_cod
		SET advance_verified = ?, advance_verified_by = ?, advance_verified_at = ?
		WHERE payment_id = ? AND NOT advance_verified
	`)

	result, err := tx.ExecContext(ctx, query, true, staff, now, paymentID)
	if err != nil {
		r.logger.Error("Failed to verify COD advance", "error", err, "paymentID", paymentID)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// RecordCODCollectionInTx stores what the courier collected on delivery
func (r *PaymentRepository) RecordCODCollectionInTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, amount decimal.Decimal, notes *string, now time.Time) error {
	query := tx.Rebind(`
		UPDATE payment_cod
		SET collected_amount = ?, collected_at = ?, notes = COALESCE(?, notes)
		WHERE payment_id = ?
	`)

	result, err := tx.ExecContext(ctx, query, amount, now, notes, paymentID)
	if err != nil {
		r.logger.Error("Failed to record COD collection", "error", err, "paymentID", paymentID)
		return dbErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
