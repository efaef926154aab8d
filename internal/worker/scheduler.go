package worker

import (
	"context"
	"log/slog"
	"time"
)

type Scheduler struct {
	source    Source
	pool      *Pool
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewScheduler(source Source, pool *Pool, interval time.Duration, batchSize int, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		source:    source,
		pool:      pool,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Sweep queues an expire job for every overdue open payment and a repair job
// for every completed payment missing its loyalty credit. It returns the
// number of jobs queued.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.source.ListDueForExpiry(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	missing, err := s.source.ListCompletedWithoutCredit(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, p := range due {
		if err := s.pool.Submit(ctx, Job{Kind: JobExpirePayment, PaymentID: p.ID}); err != nil {
			return queued, err
		}
		queued++
	}
	for _, p := range missing {
		if err := s.pool.Submit(ctx, Job{Kind: JobRepairCredit, PaymentID: p.ID}); err != nil {
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		s.logger.Info("sweep queued jobs", "expire", len(due), "repair", len(missing))
	}
	return queued, nil
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval.String(), "batch_size", s.batchSize)
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		}
	}
}
