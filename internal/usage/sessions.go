// Package usage keeps the append-mostly log of usage sessions and derives
// statistics from it.
package usage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"labbook-backend/internal/ledger"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

// Open records an active session for a granted reservation. The session id
// is the one carried by the checkout.
func Open(ctx context.Context, tx store.Tx, r *ledger.Reservation) (*model.UsageSession, error) {
	sess := &model.UsageSession{
		ID:           r.Checkout.SessionID,
		UserID:       r.Checkout.UserID,
		InstrumentID: r.Checkout.InstrumentID,
		Status:       model.SessionActive,
		StartedAt:    r.Checkout.StartedAt,
		Quantity:     r.Checkout.Quantity,
	}
	if err := tx.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close moves the session belonging to a released checkout to its terminal
// state: completed for a self-stop, terminated when an administrator acted.
// If no active session exists, a terminal row is written from the checkout.
func Close(ctx context.Context, tx store.Tx, r *ledger.Released, notes string, log *slog.Logger) (*model.UsageSession, error) {
	c := r.Checkout
	sess, err := tx.FindActiveSession(ctx, c.SessionID, c.InstrumentID, c.UserID)
	missing := errors.Is(err, store.ErrNotFound)
	if err != nil && !missing {
		return nil, err
	}
	if missing {
		log.Warn("no active usage session for released checkout; writing one from the checkout",
			"instrument_id", c.InstrumentID, "user_id", c.UserID, "session_id", c.SessionID)
		sess = &model.UsageSession{
			ID:           uuid.New(),
			UserID:       c.UserID,
			InstrumentID: c.InstrumentID,
			StartedAt:    c.StartedAt,
			Quantity:     c.Quantity,
		}
	}

	endedAt := r.EndedAt
	sess.EndedAt = &endedAt
	sess.DurationMinutes = ledger.DurationMinutes(sess.StartedAt, endedAt)
	if r.ActingAdminID != nil {
		adminID := *r.ActingAdminID
		sess.Status = model.SessionTerminated
		sess.TerminatedBy = &adminID
		sess.TerminationReason = r.Reason
	} else {
		sess.Status = model.SessionCompleted
		sess.Notes = notes
	}

	if missing {
		err = tx.InsertSession(ctx, sess)
	} else {
		err = tx.CloseSession(ctx, sess)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}
