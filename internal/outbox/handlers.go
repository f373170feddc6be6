package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// LoggingHandler is a message handler that logs the outbox message
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage handles the outbox message by logging it
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Handling outbox message",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)

	return nil
}

// FanOut delivers a message to every handler in order. All must succeed, so
// handlers must tolerate seeing the same message again.
type FanOut []MessageHandler

// HandleMessage runs every handler and joins their errors
func (f FanOut) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var errs []error
	for _, h := range f {
		if err := h.HandleMessage(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
