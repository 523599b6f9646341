package ledger

import (
	"context"

	"github.com/google/uuid"

	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

// ReconcileReport lists what Reconcile found on one instrument.
type ReconcileReport struct {
	InstrumentID uuid.UUID
	Occupancy    Occupancy
	// HintBefore is the stored available hint before repair.
	HintBefore   int
	HintRepaired bool
	// OverCapacity is true after a capacity shrink below current occupancy.
	OverCapacity bool
	// CheckoutsWithoutSession lists users holding a checkout with no active session row.
	CheckoutsWithoutSession []uuid.UUID
	// SessionsWithoutCheckout lists active session ids with no matching checkout.
	SessionsWithoutCheckout []uuid.UUID
}

// Clean reports whether nothing needed attention.
func (r *ReconcileReport) Clean() bool {
	return !r.HintRepaired && !r.OverCapacity &&
		len(r.CheckoutsWithoutSession) == 0 && len(r.SessionsWithoutCheckout) == 0
}

// Reconcile compares the instrument's checkouts with the usage ledger and
// rewrites the available hint when it drifted. Nothing else is modified.
func (l *Ledger) Reconcile(ctx context.Context, instrumentID uuid.UUID) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := l.mutate(ctx, "ledger.reconcile", instrumentID, func(ctx context.Context, tx store.Tx, inst *model.Instrument) (bool, error) {
		sessions, err := tx.ActiveSessionsFor(ctx, instrumentID)
		if err != nil {
			return false, err
		}

		occ := Of(inst)
		report = &ReconcileReport{
			InstrumentID: instrumentID,
			Occupancy:    occ,
			HintBefore:   inst.AvailableHint,
			HintRepaired: inst.AvailableHint != occ.Available,
			OverCapacity: occ.Occupied > inst.Capacity,
		}

		byID := make(map[uuid.UUID]bool, len(sessions))
		byUser := make(map[uuid.UUID]bool, len(sessions))
		for _, s := range sessions {
			byID[s.ID] = true
			byUser[s.UserID] = true
		}
		held := make(map[uuid.UUID]bool, len(inst.Checkouts))
		for _, c := range inst.Checkouts {
			held[c.UserID] = true
			if !byID[c.SessionID] && !byUser[c.UserID] {
				report.CheckoutsWithoutSession = append(report.CheckoutsWithoutSession, c.UserID)
			}
		}
		for _, s := range sessions {
			if !held[s.UserID] {
				report.SessionsWithoutCheckout = append(report.SessionsWithoutCheckout, s.ID)
			}
		}
		return report.HintRepaired, nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
