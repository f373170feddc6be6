package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// RetryableFunc defines a function that can be retried
type RetryableFunc func() error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	RetryableErrors []error // empty means every error is retried
	// Classify, when set, replaces RetryableErrors
	Classify func(error) bool
}

// ExhaustedError is returned by Retry when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// AttemptsOf reports how many attempts an exhausted retry made, or 0 for any other error.
func AttemptsOf(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 0
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		switch {
		case err == nil:
			return nil
		case attempt >= attempts:
			return &ExhaustedError{Attempts: attempt, Err: err}
		case !cfg.retryable(err):
			cfg.Logger.Warn("Non-retryable error encountered, giving up", "error", err, "attempt", attempt)
			return err
		}

		delay := cfg.BackoffStrategy.NextBackoff(attempt)
		cfg.Logger.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", attempts,
			"backoff", delay)

		if err := wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled during backoff: %w", err)
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cfg *RetryConfig) retryable(err error) bool {
	if cfg.Classify != nil {
		return cfg.Classify(err)
	}
	if len(cfg.RetryableErrors) == 0 {
		return true
	}
	for _, target := range cfg.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RetryWithDiscard runs Retry and hands the final error to discardFn when it fails.
func RetryWithDiscard(ctx context.Context, fn RetryableFunc, cfg *RetryConfig, discardFn func(error) error) error {
	err := Retry(ctx, fn, cfg)
	if err == nil {
		return nil
	}

	cfg.Logger.Error("Retries failed, applying discard policy", "error", err, "attempts", AttemptsOf(err))
	return discardFn(err)
}
