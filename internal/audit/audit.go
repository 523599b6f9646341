// Package audit periodically checks every instrument's checkouts against the
// usage ledger and repairs a drifted availability hint.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"labbook-backend/config"
	"labbook-backend/internal/ledger"
	"labbook-backend/internal/store"
)

// InstrumentLister lists the instruments to audit.
type InstrumentLister interface {
	ListInstrumentIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Summary counts what one audit round found.
type Summary struct {
	Checked                 int
	HintsRepaired           int
	OverCapacity            int
	CheckoutsWithoutSession int
	SessionsWithoutCheckout int
	Failed                  int
}

// Service drives audit rounds on a timer.
type Service struct {
	cfg     config.AuditConfig
	lister  InstrumentLister
	checker Checker
	log     *slog.Logger
}

// NewService creates an audit Service.
func NewService(cfg config.AuditConfig, lister InstrumentLister, checker Checker, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		lister:  lister,
		checker: checker,
		log:     log,
	}
}

// Run audits immediately and then every configured interval until ctx ends.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("consistency audit is disabled")
		return
	}
	s.log.Info("starting consistency audit", "interval", s.cfg.Interval, "workers", s.cfg.WorkerPoolSize)

	s.runOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("consistency audit shutting down")
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if _, err := s.AuditOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("audit round failed", "error", err)
	}
}

// AuditOnce reconciles every instrument and waits for the results. Each round
// runs its own workers, which exit when the round returns.
func (s *Service) AuditOnce(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool := NewWorkerPool(s.cfg.WorkerPoolSize, s.checker, s.log)
	pool.Start(ctx)

	ids, err := s.lister.ListInstrumentIDs(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary Summary
	)
	for _, id := range ids {
		wg.Add(1)
		err := pool.Dispatch(ctx, id, func(r *ledger.ReconcileReport, err error) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			s.record(&summary, id, r, err)
		})
		if err != nil {
			wg.Done()
			return Summary{}, err
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}

	s.log.Info("audit round completed",
		"checked", summary.Checked, "hints_repaired", summary.HintsRepaired,
		"over_capacity", summary.OverCapacity, "failed", summary.Failed)
	return summary, nil
}

func (s *Service) record(sum *Summary, id uuid.UUID, r *ledger.ReconcileReport, err error) {
	switch {
	case errors.Is(err, ledger.ErrInstrumentNotFound), errors.Is(err, store.ErrNotFound):
		// Removed between listing and reconciling.
		return
	case err != nil:
		sum.Failed++
		s.log.Error("failed to reconcile instrument", "instrument_id", id, "error", err)
		return
	}

	sum.Checked++
	if r.Clean() {
		return
	}
	if r.HintRepaired {
		sum.HintsRepaired++
		s.log.Warn("available hint drifted and was repaired",
			"instrument_id", id, "hint", r.HintBefore, "available", r.Occupancy.Available)
	}
	if r.OverCapacity {
		sum.OverCapacity++
		s.log.Warn("instrument occupancy exceeds capacity",
			"instrument_id", id, "capacity", r.Occupancy.Capacity, "occupied", r.Occupancy.Occupied)
	}
	if n := len(r.CheckoutsWithoutSession); n > 0 {
		sum.CheckoutsWithoutSession += n
		s.log.Warn("checkouts without an active session", "instrument_id", id, "user_ids", r.CheckoutsWithoutSession)
	}
	if n := len(r.SessionsWithoutCheckout); n > 0 {
		sum.SessionsWithoutCheckout += n
		s.log.Warn("active sessions without a checkout", "instrument_id", id, "session_ids", r.SessionsWithoutCheckout)
	}
}
