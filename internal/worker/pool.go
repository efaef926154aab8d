package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type JobKind string

const (
	JobExpirePayment JobKind = "expire_payment"
	JobRepairCredit  JobKind = "repair_credit"
)

type Job struct {
	Kind      JobKind
	PaymentID string
}

// HandlerFunc runs one job. Errors are counted and logged by the pool.
type HandlerFunc func(ctx context.Context, job Job) error

type worker struct {
	id         int
	workerPool chan chan Job
	jobChannel chan Job
	logger     *slog.Logger
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, process func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.workerPool <- w.jobChannel:
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("worker processing job", "worker_id", w.id, "kind", job.Kind, "payment_id", job.PaymentID)
				process(ctx, job)
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

type Config struct {
	MaxWorkers   int
	JobQueueSize int
}

type Stats struct {
	Processed int64
	Failed    int64
}

// Pool feeds queued jobs to a fixed set of workers. Each idle worker offers
// its own channel to the dispatcher.
type Pool struct {
	handle     HandlerFunc
	logger     *slog.Logger
	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int

	done     chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	once     sync.Once

	processed atomic.Int64
	failed    atomic.Int64
}

func NewPool(cfg Config, handle HandlerFunc, logger *slog.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	return &Pool{
		handle:     handle,
		logger:     logger,
		jobQueue:   make(chan Job, cfg.JobQueueSize),
		workerPool: make(chan chan Job, cfg.MaxWorkers),
		maxWorkers: cfg.MaxWorkers,
		done:       make(chan struct{}),
	}
}

// Start launches the workers and the dispatcher. They stop when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.maxWorkers; i++ {
			w := &worker{
				id:         i,
				workerPool: p.workerPool,
				jobChannel: make(chan Job),
				logger:     p.logger,
			}
			w.start(ctx, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch(ctx)

		p.logger.Info("worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) dispatch(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.done)

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
					continue
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
			p.inflight.Done()
			p.dropQueued()
			p.logger.Info("dispatcher shutting down")
			return
		case <-ctx.Done():
			p.dropQueued()
			p.logger.Info("dispatcher shutting down")
			return
		}
	}
}

func (p *Pool) dropQueued() {
	for {
		select {
		case <-p.jobQueue:
			p.inflight.Done()
		default:
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	defer p.inflight.Done()

	if err := p.handle(ctx, job); err != nil {
		p.failed.Add(1)
		p.logger.Error("job failed",
			"kind", job.Kind,
			"payment_id", job.PaymentID,
			"error", err)
		return
	}
	p.processed.Add(1)
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-p.done:
		return ErrPoolStopped
	default:
	}

	p.inflight.Add(1)
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.done:
		p.inflight.Done()
		return ErrPoolStopped
	case <-ctx.Done():
		p.inflight.Done()
		return ctx.Err()
	}
}

// Drain waits until every submitted job has run, or ctx ends.
func (p *Pool) Drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the workers and the dispatcher have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("worker pool shutdown complete")
}

func (p *Pool) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
}
