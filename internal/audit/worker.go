package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"labbook-backend/internal/ledger"
)

// Checker reconciles one instrument.
type Checker interface {
	Reconcile(ctx context.Context, instrumentID uuid.UUID) (*ledger.ReconcileReport, error)
}

type job struct {
	instrumentID uuid.UUID
	done         func(*ledger.ReconcileReport, error)
}

// WorkerPool runs reconciliations on a fixed number of goroutines.
type WorkerPool struct {
	size    int
	jobs    chan job
	checker Checker
	log     *slog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, checker Checker, log *slog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan job, size),
		checker: checker,
		log:     log,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("audit worker started", "worker", id)
	for {
		select {
		case j := <-wp.jobs:
			report, err := wp.checker.Reconcile(ctx, j.instrumentID)
			j.done(report, err)
		case <-ctx.Done():
			wp.log.Debug("audit worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch queues a reconciliation; done is called from the worker with the
// result. It returns ctx.Err() if ctx ends before the job is queued.
func (wp *WorkerPool) Dispatch(ctx context.Context, instrumentID uuid.UUID, done func(*ledger.ReconcileReport, error)) error {
	select {
	case wp.jobs <- job{instrumentID: instrumentID, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
