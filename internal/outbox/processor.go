package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Processor relays pending outbox messages to their handlers
type Processor struct {
	outboxRepo      *repository.OutboxRepository
	dlqRepo         *repository.DeadLetterRepository
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
}

// NewProcessor creates a new Processor. Messages that exhaust MaxRetries are parked in dlqRepo.
func NewProcessor(
	outboxRepo *repository.OutboxRepository,
	dlqRepo *repository.DeadLetterRepository,
	config ProcessorConfig,
	logger logger.Logger,
) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	return &Processor{
		outboxRepo:      outboxRepo,
		dlqRepo:         dlqRepo,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the outbox processor
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.pollingInterval)
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
			cancel()
		}
	}
}

// ProcessBatch relays one batch of pending messages and returns how many were delivered
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.outboxRepo.GetPendingMessages(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Relaying outbox batch", "count", len(messages))

	delivered := 0
	for _, msg := range messages {
		ok, err := p.relay(ctx, msg)
		if err != nil {
			p.logger.Error("Failed to relay message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		if ok {
			delivered++
		}
	}

	return delivered, nil
}

// relay claims msg, hands it to its handler and settles the outcome.
// It reports false without an error when another relay owns the message.
func (p *Processor) relay(ctx context.Context, msg *models.OutboxMessage) (bool, error) {
	if err := p.outboxRepo.MarkAsProcessing(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrStale) {
			p.logger.Debug("Message claimed by another relay", "messageID", msg.ID)
			return false, nil
		}
		return false, fmt.Errorf("failed to claim message: %w", err)
	}

	handler, ok := p.handlers[msg.EventType]
	if !ok {
		err := fmt.Errorf("no handler registered for event type %s", msg.EventType)
		p.park(ctx, msg, err.Error(), "no handler")
		return false, err
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		return false, p.settleFailure(ctx, msg, err)
	}

	if err := p.outboxRepo.MarkAsCompleted(ctx, msg.ID); err != nil {
		return false, fmt.Errorf("failed to mark message as completed: %w", err)
	}
	p.logger.Info("Outbox message delivered",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)
	return true, nil
}

// settleFailure requeues msg, or parks it once it has used its last attempt.
func (p *Processor) settleFailure(ctx context.Context, msg *models.OutboxMessage, cause error) error {
	attempt := msg.ProcessingAttempts + 1

	if attempt >= p.maxRetries {
		p.park(ctx, msg, cause.Error(), fmt.Sprintf("delivery failed after %d attempts", attempt))
		return fmt.Errorf("message failed after %d attempts: %w", attempt, cause)
	}

	p.logger.Warn("Delivery failed, will retry", "error", cause, "messageID", msg.ID, "attempt", attempt)
	if err := p.outboxRepo.MarkForRetry(ctx, msg.ID, cause.Error()); err != nil {
		p.logger.Error("Failed to requeue message", "error", err, "messageID", msg.ID)
	}
	return cause
}

// park marks the message failed and copies it to the dead letter queue
func (p *Processor) park(ctx context.Context, msg *models.OutboxMessage, errorMsg, reason string) {
	if err := p.outboxRepo.MarkAsFailed(ctx, msg.ID, errorMsg); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}
	if p.dlqRepo == nil {
		return
	}

	if err := p.dlqRepo.Create(ctx, models.NewDeadLetterMessage(msg, errorMsg, reason)); err != nil {
		p.logger.Error("Failed to move message to dead letter queue", "error", err, "messageID", msg.ID)
		return
	}
	p.logger.Warn("Message moved to dead letter queue", "messageID", msg.ID, "reason", reason)
}
