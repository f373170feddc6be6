package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const (
	defaultSweepAge   = time.Hour
	defaultSampleSize = 5
)

// SweepOptions controls one cleanup run. Zero values take the defaults.
type SweepOptions struct {
	OlderThan  time.Duration
	DryRun     bool
	SampleSize int
}

// SweepReport describes what a cleanup run matched and removed
type SweepReport struct {
	Cutoff  time.Time `json:"cutoff"`
	Matched int       `json:"matched"`
	Deleted int       `json:"deleted"`
	Sample  []string  `json:"sample"`
	DryRun  bool      `json:"dry_run"`
}

// PendingOrderSweeper removes orders that were never paid for
type PendingOrderSweeper struct {
	db         *database.Database
	orderRepo  *repository.OrderRepository
	outboxRepo *repository.OutboxRepository
	logger     logger.Logger
	now        func() time.Time
}

// NewPendingOrderSweeper creates a new PendingOrderSweeper
func NewPendingOrderSweeper(
	db *database.Database,
	orderRepo *repository.OrderRepository,
	outboxRepo *repository.OutboxRepository,
	logger logger.Logger,
) *PendingOrderSweeper {
	return &PendingOrderSweeper{
		db:         db,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
		now:        models.GetCurrentTime,
	}
}

// Sweep deletes orders that are pending with a pending payment and older than
// opts.OlderThan. A dry run only counts them.
func (s *PendingOrderSweeper) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if opts.OlderThan < 0 {
		return nil, invalidInput("older_than must not be negative")
	}
	if opts.OlderThan == 0 {
		opts.OlderThan = defaultSweepAge
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}

	now := s.now()
	report := &SweepReport{Cutoff: now.Add(-opts.OlderThan), DryRun: opts.DryRun, Sample: []string{}}

	if opts.DryRun {
		matched, sample, err := s.orderRepo.CountStalePending(ctx, report.Cutoff, opts.SampleSize)
		if err != nil {
			return nil, passThrough("failed to count stale orders", err)
		}
		report.Matched = matched
		report.Sample = sample

		s.logger.Info("Cleanup dry run", "cutoff", report.Cutoff, "matched", matched)
		return report, nil
	}

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		numbers, err := s.orderRepo.DeleteStalePendingInTx(ctx, tx, report.Cutoff)
		if err != nil {
			return err
		}

		report.Matched = len(numbers)
		report.Deleted = len(numbers)
		if len(numbers) > opts.SampleSize {
			report.Sample = numbers[:opts.SampleSize]
		} else {
			report.Sample = numbers
		}

		if len(numbers) == 0 {
			return nil
		}

		msg, err := models.NewOrdersPurgedEvent(numbers, report.Cutoff, now)
		if err != nil {
			return internalErr("failed to create outbox message", err)
		}
		return s.outboxRepo.CreateInTx(ctx, tx, msg)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, apperrors.NewConflictError("orders changed during cleanup, run it again")
		}
		return nil, passThrough("cleanup failed", err)
	}

	s.logger.Info("Stale pending orders deleted", "cutoff", report.Cutoff, "deleted", report.Deleted)
	return report, nil
}
