// Package session drives the usage-session lifecycle: a checkout on the
// capacity ledger and its usage record are created and ended together.
package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"labbook-backend/internal/ledger"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
	"labbook-backend/internal/usage"
)

// StartResult is returned by Start.
type StartResult struct {
	Instrument *model.Instrument
	Occupancy  ledger.Occupancy
	Session    *model.UsageSession
}

// StopResult is returned by Stop and ForceStop.
type StopResult struct {
	Instrument      *model.Instrument
	Occupancy       ledger.Occupancy
	Session         *model.UsageSession
	DurationMinutes int
}

// Controller starts and ends usage sessions.
type Controller struct {
	ledger *ledger.Ledger
	log    *slog.Logger
	tracer trace.Tracer
}

// NewController creates a Controller on top of l.
func NewController(l *ledger.Ledger, log *slog.Logger) *Controller {
	return &Controller{
		ledger: l,
		log:    log,
		tracer: otel.Tracer("labbook/session"),
	}
}

// Start checks out quantity units of the instrument for the actor and opens
// an active usage session. On rejection nothing is recorded.
func (c *Controller) Start(ctx context.Context, actor model.Principal, instrumentID uuid.UUID, quantity int) (*StartResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, ledger.ErrUnauthorized
	}
	ctx, span := c.tracer.Start(ctx, "session.start", trace.WithAttributes(
		attribute.String("instrument.id", instrumentID.String()),
		attribute.String("user.id", actor.UserID.String()),
	))
	defer span.End()

	var sess *model.UsageSession
	res, err := c.ledger.TryReserve(ctx, instrumentID, actor.UserID, quantity,
		func(ctx context.Context, tx store.Tx, r *ledger.Reservation) error {
			var err error
			sess, err = usage.Open(ctx, tx, r)
			return err
		})
	if err != nil {
		c.log.Info("session start rejected", "instrument_id", instrumentID, "user_id", actor.UserID, "quantity", quantity, "error", err)
		return nil, err
	}

	c.log.Info("session started",
		"instrument_id", instrumentID, "user_id", actor.UserID, "session_id", sess.ID,
		"quantity", quantity, "available", res.Occupancy.Available)
	return &StartResult{Instrument: res.Instrument, Occupancy: res.Occupancy, Session: sess}, nil
}

// Stop ends the actor's own session on the instrument as completed.
func (c *Controller) Stop(ctx context.Context, actor model.Principal, instrumentID uuid.UUID, notes string) (*StopResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, ledger.ErrUnauthorized
	}
	ctx, span := c.tracer.Start(ctx, "session.stop", trace.WithAttributes(
		attribute.String("instrument.id", instrumentID.String()),
		attribute.String("user.id", actor.UserID.String()),
	))
	defer span.End()

	var sess *model.UsageSession
	rel, err := c.ledger.Release(ctx, instrumentID, actor.UserID,
		func(ctx context.Context, tx store.Tx, r *ledger.Released) error {
			var err error
			sess, err = usage.Close(ctx, tx, r, notes, c.log)
			return err
		})
	if err != nil {
		return nil, err
	}

	c.log.Info("session completed",
		"instrument_id", instrumentID, "user_id", actor.UserID, "session_id", sess.ID,
		"duration_minutes", sess.DurationMinutes)
	return stopResult(rel, sess), nil
}

// ForceStop ends another user's session on the instrument as terminated,
// recording the administrator and reason.
func (c *Controller) ForceStop(ctx context.Context, actor model.Principal, instrumentID, targetUserID uuid.UUID, reason string) (*StopResult, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	if targetUserID == uuid.Nil {
		return nil, ledger.Validation("user id is required")
	}
	ctx, span := c.tracer.Start(ctx, "session.force_stop", trace.WithAttributes(
		attribute.String("instrument.id", instrumentID.String()),
		attribute.String("user.id", targetUserID.String()),
		attribute.String("admin.id", actor.UserID.String()),
	))
	defer span.End()

	var sess *model.UsageSession
	rel, err := c.ledger.ReleaseOnBehalf(ctx, instrumentID, targetUserID, actor, reason,
		func(ctx context.Context, tx store.Tx, r *ledger.Released) error {
			var err error
			sess, err = usage.Close(ctx, tx, r, "", c.log)
			return err
		})
	if err != nil {
		return nil, err
	}

	c.log.Warn("session terminated by administrator",
		"instrument_id", instrumentID, "user_id", targetUserID, "admin_id", actor.UserID,
		"session_id", sess.ID, "reason", reason, "duration_minutes", sess.DurationMinutes)
	return stopResult(rel, sess), nil
}

func stopResult(rel *ledger.Released, sess *model.UsageSession) *StopResult {
	return &StopResult{
		Instrument:      rel.Instrument,
		Occupancy:       rel.Occupancy,
		Session:         sess,
		DurationMinutes: sess.DurationMinutes,
	}
}
