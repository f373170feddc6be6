package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

func insertOutbox(ctx context.Context, q sqlx.ExtContext, message *models.OutboxMessage) error {
	query := q.Rebind(`
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload, created_at, status
		) VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	// string so lib/pq sends text to the JSONB column instead of bytea
	return q.QueryRowxContext(ctx, query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		string(message.Payload),
		message.CreatedAt,
		message.Status,
	).Scan(&message.ID)
}

// Create inserts a new outbox message outside of any transaction
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	if err := insertOutbox(ctx, r.db.DB, message); err != nil {
		r.logger.Error("Failed to create outbox message", "error", err)
		return dbErr(err)
	}
	return nil
}

// CreateInTx creates a new outbox message within a transaction
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	if err := insertOutbox(ctx, tx, message); err != nil {
		r.logger.Error("Failed to create outbox message in transaction", "error", err, "eventType", message.EventType)
		return dbErr(err)
	}
	return nil
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := r.db.Rebind(`SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)

	var messages []*models.OutboxMessage
	if err := r.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusPending, limit); err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, dbErr(err)
	}

	return messages, nil
}

// ListByAggregate returns the messages written for one aggregate, oldest first
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*models.OutboxMessage, error) {
	query := r.db.Rebind(`SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY id ASC
	`)

	var messages []*models.OutboxMessage
	if err := r.db.DB.SelectContext(ctx, &messages, query, aggregateType, aggregateID); err != nil {
		r.logger.Error("Failed to list outbox messages", "error", err, "aggregateID", aggregateID)
		return nil, dbErr(err)
	}
	return messages, nil
}

// ListByEventType returns the messages of one event type, oldest first
func (r *OutboxRepository) ListByEventType(ctx context.Context, eventType string) ([]*models.OutboxMessage, error) {
	query := r.db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox_messages WHERE event_type = ? ORDER BY id ASC`)

	var messages []*models.OutboxMessage
	if err := r.db.DB.SelectContext(ctx, &messages, query, eventType); err != nil {
		r.logger.Error("Failed to list outbox messages", "error", err, "eventType", eventType)
		return nil, dbErr(err)
	}
	return messages, nil
}

// MarkAsProcessing claims a pending message. Returns ErrStale when another relay claimed it.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	query := r.db.Rebind(`
		UPDATE outbox_messages
		SET status = ?, processing_attempts = processing_attempts + 1
		WHERE id = ? AND status = ?
	`)

	result, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusProcessing, id, models.OutboxStatusPending)
	if err != nil {
		r.logger.Error("Failed to mark outbox message as processing", "error", err, "message_id", id)
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

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	query := r.db.Rebind(`UPDATE outbox_messages SET status = ?, processed_at = ? WHERE id = ?`)

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusCompleted, time.Now().UTC(), id); err != nil {
		r.logger.Error("Failed to mark outbox message as completed", "error", err, "message_id", id)
		return dbErr(err)
	}
	return nil
}

// MarkForRetry records the error and puts the message back in the pending queue
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	query := r.db.Rebind(`UPDATE outbox_messages SET status = ?, last_error = ? WHERE id = ?`)

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusPending, errorMessage, id); err != nil {
		r.logger.Error("Failed to requeue outbox message", "error", err, "message_id", id)
		return dbErr(err)
	}
	return nil
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	query := r.db.Rebind(`UPDATE outbox_messages SET status = ?, last_error = ? WHERE id = ?`)

	if _, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusFailed, errorMessage, id); err != nil {
		r.logger.Error("Failed to mark outbox message as failed", "error", err, "message_id", id)
		return dbErr(err)
	}
	return nil
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	query := r.db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id = ?`)

	var message models.OutboxMessage
	if err := r.db.DB.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get outbox message", "error", err, "message_id", id)
		return nil, dbErr(err)
	}

	return &message, nil
}
