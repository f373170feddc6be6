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
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// ErrNotPending is returned when a redelivery targets a message that is no longer pending
var ErrNotPending = errors.New("dead letter message is not pending")

// DeadLetterProcessor redelivers parked messages with an in-process retry loop
type DeadLetterProcessor struct {
	dlqRepo         *repository.DeadLetterRepository
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	backoffStrategy retry.BackoffStrategy
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// DeadLetterProcessorConfig holds the configuration for the DeadLetterProcessor
type DeadLetterProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	BackoffStrategy retry.BackoffStrategy
}

// NewDeadLetterProcessor creates a new dead letter processor
func NewDeadLetterProcessor(
	dlqRepo *repository.DeadLetterRepository,
	config DeadLetterProcessorConfig,
	logger logger.Logger,
) *DeadLetterProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.BackoffStrategy == nil {
		config.BackoffStrategy = retry.NewDefaultExponentialBackoff()
	}
	if config.PollingInterval <= 0 {
		config.PollingInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}

	return &DeadLetterProcessor{
		dlqRepo:         dlqRepo,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		backoffStrategy: config.BackoffStrategy,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *DeadLetterProcessor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the dead letter processor
func (p *DeadLetterProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processDLQ()
	}()

	p.logger.Info("Dead letter processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the dead letter processor
func (p *DeadLetterProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Dead letter processor stopped")
}

func (p *DeadLetterProcessor) processDLQ() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process dead letter batch", "error", err)
			}
		}
	}
}

// ProcessBatch redelivers one batch of pending dead letters and returns how many were resolved
func (p *DeadLetterProcessor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.dlqRepo.GetPendingMessages(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending messages in dead letter queue")
		return 0, nil
	}

	p.logger.Info("Processing batch of dead letter messages", "count", len(messages))

	resolved := 0
	for _, msg := range messages {
		ok, err := p.processMessage(ctx, msg)
		if err != nil {
			p.logger.Error("Failed to process dead letter message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType,
				"retryCount", msg.RetryCount)
			continue
		}
		if ok {
			resolved++
		}
	}

	return resolved, nil
}

// Redeliver runs one pending dead letter through its handler now and returns its new state
func (p *DeadLetterProcessor) Redeliver(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	msg, err := p.dlqRepo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != models.DeadLetterStatusPending {
		return nil, ErrNotPending
	}

	ok, err := p.processMessage(ctx, msg)
	if err == nil && !ok {
		return nil, ErrNotPending
	}

	current, getErr := p.dlqRepo.GetMessage(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, err
}

// processMessage reports whether msg was redelivered and resolved
func (p *DeadLetterProcessor) processMessage(ctx context.Context, msg *models.DeadLetterMessage) (bool, error) {
	if err := p.dlqRepo.MarkAsRetrying(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrStale) {
			p.logger.Debug("Dead letter claimed elsewhere", "messageID", msg.ID)
			return false, nil
		}
		return false, fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	handler, exists := p.handlers[msg.EventType]
	if !exists {
		if err := p.dlqRepo.MarkAsDiscarded(ctx, msg.ID, "No handler available"); err != nil {
			p.logger.Error("Failed to mark message as discarded", "error", err, "messageID", msg.ID)
		}
		return false, fmt.Errorf("no handler registered for event type %s", msg.EventType)
	}

	outboxMsg := msg.AsOutboxMessage()

	retryConfig := &retry.RetryConfig{
		MaxAttempts:     p.maxRetries,
		BackoffStrategy: p.backoffStrategy,
		Logger:          p.logger,
	}

	deliver := func() error {
		return handler.HandleMessage(ctx, outboxMsg)
	}

	// A cancelled run leaves the message pending for the next poll instead of discarding it.
	discard := func(err error) error {
		if ctx.Err() != nil {
			if resetErr := p.dlqRepo.ResetToRetry(context.WithoutCancel(ctx), msg.ID); resetErr != nil {
				p.logger.Error("Failed to reset dead letter message", "error", resetErr, "messageID", msg.ID)
			}
			return err
		}

		attempts, cause := 1, err
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			attempts, cause = exhausted.Attempts, exhausted.Err
		}
		reason := fmt.Sprintf("Failed after %d attempts: %v", attempts, cause)
		if markErr := p.dlqRepo.MarkAsDiscarded(ctx, msg.ID, reason); markErr != nil {
			p.logger.Error("Failed to mark message as discarded", "error", markErr, "messageID", msg.ID)
		}
		return fmt.Errorf("message discarded: %w", err)
	}

	if err := retry.RetryWithDiscard(ctx, deliver, retryConfig, discard); err != nil {
		return false, err
	}

	if err := p.dlqRepo.MarkAsResolved(ctx, msg.ID); err != nil {
		return false, fmt.Errorf("failed to mark message as resolved: %w", err)
	}

	p.logger.Info("Successfully redelivered dead letter message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return true, nil
}
