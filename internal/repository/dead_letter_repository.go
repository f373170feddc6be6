package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository handles database operations related to dead letter messages
type DeadLetterRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new dead letter message
func (r *DeadLetterRepository) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	query := r.db.Rebind(`
		INSERT INTO dead_letter_messages (
			original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.DB.QueryRowxContext(ctx, query,
		message.OriginalMessageID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		string(message.Payload),
		message.ErrorMessage,
		message.FailureReason,
		message.RetryCount,
		message.Status,
		message.CreatedAt,
	).Scan(&message.ID)
	if err != nil {
		r.logger.Error("Failed to create dead letter message", "error", err)
		return dbErr(err)
	}

	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	return r.list(ctx, models.DeadLetterStatusPending, limit)
}

// List returns dead letter messages in status, oldest first. Empty status lists all.
func (r *DeadLetterRepository) List(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetterMessage, error) {
	return r.list(ctx, status, limit)
}

func (r *DeadLetterRepository) list(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetterMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		query string
		args  []interface{}
	)
	if status == "" {
		query = `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages ORDER BY created_at ASC, id ASC LIMIT ?`
		args = []interface{}{limit}
	} else {
		query = `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`
		args = []interface{}{status, limit}
	}

	var messages []*models.DeadLetterMessage
	if err := r.db.DB.SelectContext(ctx, &messages, r.db.Rebind(query), args...); err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err, "status", status)
		return nil, dbErr(err)
	}

	return messages, nil
}

// MarkAsRetrying claims a pending message for a retry. Returns ErrStale when it is not pending.
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id int64) error {
	query := r.db.Rebind(`
		UPDATE dead_letter_messages
		SET status = ?, retry_count = retry_count + 1, last_retry_at = ?
		WHERE id = ? AND status = ?
	`)

	return r.exec(ctx, "retrying", id, query,
		models.DeadLetterStatusRetrying, time.Now().UTC(), id, models.DeadLetterStatusPending)
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id int64) error {
	query := r.db.Rebind(`UPDATE dead_letter_messages SET status = ?, resolved_at = ? WHERE id = ?`)

	return r.exec(ctx, "resolved", id, query, models.DeadLetterStatusResolved, time.Now().UTC(), id)
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	query := r.db.Rebind(`
		UPDATE dead_letter_messages
		SET status = ?, failure_reason = failure_reason || ' | Discarded: ' || CAST(? AS TEXT), resolved_at = ?
		WHERE id = ? AND status IN (?, ?)
	`)

	return r.exec(ctx, "discarded", id, query,
		models.DeadLetterStatusDiscarded, reason, time.Now().UTC(), id,
		models.DeadLetterStatusPending, models.DeadLetterStatusRetrying)
}

// ResetToRetry resets a retrying message back to pending state
func (r *DeadLetterRepository) ResetToRetry(ctx context.Context, id int64) error {
	query := r.db.Rebind(`UPDATE dead_letter_messages SET status = ? WHERE id = ? AND status = ?`)

	return r.exec(ctx, "pending", id, query,
		models.DeadLetterStatusPending, id, models.DeadLetterStatusRetrying)
}

func (r *DeadLetterRepository) exec(ctx context.Context, target string, id int64, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update dead letter message", "error", err, "messageID", id, "target", target)
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

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	query := r.db.Rebind(`SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE id = ?`)

	var message models.DeadLetterMessage
	if err := r.db.DB.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get dead letter message", "error", err, "messageID", id)
		return nil, dbErr(err)
	}

	return &message, nil
}
