// Package ledger owns the per-instrument capacity ledger: the set of active
// checkouts and the rule that their quantities never exceed capacity when a
// reservation is granted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

// Reservation is the outcome of a granted TryReserve.
type Reservation struct {
	Instrument *model.Instrument
	Checkout   model.Checkout
	Occupancy  Occupancy
}

// ReserveHook runs inside the reservation's transaction after the checkout is staged.
// An error aborts the reservation.
type ReserveHook func(ctx context.Context, tx store.Tx, r *Reservation) error

// ReleaseHook runs inside the release's transaction after the checkout is removed.
type ReleaseHook func(ctx context.Context, tx store.Tx, r *Released) error

// mutation changes inst inside a transaction and reports whether the
// instrument row must be written back.
type mutation func(ctx context.Context, tx store.Tx, inst *model.Instrument) (save bool, err error)

// Ledger applies mutations to instruments one at a time per instrument,
// retrying transactions that lose a race with another writer.
type Ledger struct {
	store       store.Store
	locks       *Locks
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	log         *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for checkout timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetry sets the attempt budget and the linear backoff step between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		l.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger backed by s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		locks:       NewLocks(),
		maxAttempts: 3,
		backoff:     20 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.Default(),
		tracer:      otel.Tracer("labbook/ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// TryReserve grants quantity units of the instrument to userID, or rejects
// with the first failing precondition. hook may be nil.
func (l *Ledger) TryReserve(ctx context.Context, instrumentID, userID uuid.UUID, quantity int, hook ReserveHook) (*Reservation, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var res *Reservation
	err := l.mutate(ctx, "ledger.try_reserve", instrumentID, func(ctx context.Context, tx store.Tx, inst *model.Instrument) (bool, error) {
		c, err := Reserve(inst, userID, uuid.New(), quantity, l.now())
		if err != nil {
			return false, err
		}
		if err := tx.InsertCheckout(ctx, &c); err != nil {
			return false, err
		}

		res = &Reservation{Instrument: inst, Checkout: c, Occupancy: Of(inst)}
		if hook != nil {
			if err := hook(ctx, tx, res); err != nil {
				return false, err
			}
		}
		return true, nil
	}, attribute.String("user.id", userID.String()), attribute.Int("quantity", quantity))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Release ends userID's own checkout on the instrument.
func (l *Ledger) Release(ctx context.Context, instrumentID, userID uuid.UUID, hook ReleaseHook) (*Released, error) {
	return l.release(ctx, "ledger.release", instrumentID, userID, nil, "", hook)
}

// ReleaseOnBehalf ends targetUserID's checkout on behalf of an administrator.
func (l *Ledger) ReleaseOnBehalf(ctx context.Context, instrumentID, targetUserID uuid.UUID, actor model.Principal, reason string, hook ReleaseHook) (*Released, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	adminID := actor.UserID
	return l.release(ctx, "ledger.release_on_behalf", instrumentID, targetUserID, &adminID, reason, hook)
}

func (l *Ledger) release(ctx context.Context, op string, instrumentID, userID uuid.UUID, adminID *uuid.UUID, reason string, hook ReleaseHook) (*Released, error) {
	var res *Released
	err := l.mutate(ctx, op, instrumentID, func(ctx context.Context, tx store.Tx, inst *model.Instrument) (bool, error) {
		r, err := Release(inst, userID, l.now())
		if err != nil {
			return false, err
		}
		if err := tx.DeleteCheckout(ctx, instrumentID, userID); err != nil {
			return false, err
		}

		r.ActingAdminID = adminID
		r.Reason = reason
		res = &r
		if hook != nil {
			if err := hook(ctx, tx, res); err != nil {
				return false, err
			}
		}
		return true, nil
	}, attribute.String("user.id", userID.String()))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetCapacity changes the instrument's capacity. Active checkouts are never
// evicted, so occupancy may exceed the new capacity.
func (l *Ledger) SetCapacity(ctx context.Context, instrumentID uuid.UUID, capacity int) (*model.Instrument, error) {
	return l.Modify(ctx, instrumentID, func(inst *model.Instrument) error {
		return Resize(inst, capacity)
	})
}

// Modify applies fn to the instrument under the ledger's per-instrument
// serialization and persists the result. Capacity changes inside fn must go
// through Resize.
func (l *Ledger) Modify(ctx context.Context, instrumentID uuid.UUID, fn func(inst *model.Instrument) error) (*model.Instrument, error) {
	var out *model.Instrument
	err := l.mutate(ctx, "ledger.modify", instrumentID, func(ctx context.Context, tx store.Tx, inst *model.Instrument) (bool, error) {
		if err := fn(inst); err != nil {
			return false, err
		}
		out = inst
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes an instrument that has no active checkouts.
func (l *Ledger) Remove(ctx context.Context, instrumentID uuid.UUID) error {
	return l.mutate(ctx, "ledger.remove", instrumentID, func(ctx context.Context, tx store.Tx, inst *model.Instrument) (bool, error) {
		if err := CheckRemovable(inst); err != nil {
			return false, err
		}
		if err := tx.DeleteInstrument(ctx, instrumentID); err != nil {
			return false, err
		}
		return false, nil
	})
}

// mutate runs m against a freshly loaded instrument under the per-instrument
// lock, retrying on store.ErrConflict.
func (l *Ledger) mutate(ctx context.Context, op string, instrumentID uuid.UUID, m mutation, attrs ...attribute.KeyValue) error {
	attrs = append(attrs, attribute.String("instrument.id", instrumentID.String()))
	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()

	unlock := l.locks.Lock(instrumentID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.store.Transaction(ctx, func(tx store.Tx) error {
			inst, err := tx.LockInstrument(ctx, instrumentID)
			if errors.Is(err, store.ErrNotFound) {
				return ErrInstrumentNotFound
			}
			if err != nil {
				return err
			}

			version := inst.Version
			save, err := m(ctx, tx, inst)
			if err != nil {
				return err
			}
			if !save {
				return nil
			}
			inst.AvailableHint = Of(inst).Available
			return tx.SaveInstrument(ctx, inst, version)
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}

		span.AddEvent("conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
		l.log.Warn("ledger write conflict", "op", op, "instrument_id", instrumentID, "attempt", attempt, "error", err)
		if attempt < l.maxAttempts {
			if waitErr := sleep(ctx, time.Duration(attempt)*l.backoff); waitErr != nil {
				err = waitErr
				break
			}
		}
	}

	if errors.Is(err, store.ErrConflict) {
		err = fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
