package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"

	"labbook-backend/internal/model"
)

// Released describes a checkout that has been removed from an instrument.
type Released struct {
	Instrument      *model.Instrument
	Checkout        model.Checkout
	EndedAt         time.Time
	DurationMinutes int
	Occupancy       Occupancy
	// ActingAdminID and Reason are set when an administrator ended the checkout.
	ActingAdminID *uuid.UUID
	Reason        string
}

// DurationMinutes returns the elapsed whole minutes between start and end,
// rounded to the nearest minute. Negative spans count as zero.
func DurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

func findCheckout(inst *model.Instrument, userID uuid.UUID) int {
	for i, c := range inst.Checkouts {
		if c.UserID == userID {
			return i
		}
	}
	return -1
}

// Reserve checks the reservation preconditions against inst and, on success,
// appends the new checkout to inst.Checkouts.
func Reserve(inst *model.Instrument, userID, sessionID uuid.UUID, quantity int, now time.Time) (model.Checkout, error) {
	if quantity < 1 {
		return model.Checkout{}, ErrInvalidQuantity
	}
	if inst.Status != model.InstrumentAvailable {
		return model.Checkout{}, ErrNotAvailable
	}
	if findCheckout(inst, userID) >= 0 {
		return model.Checkout{}, ErrDuplicateCheckout
	}

	occ := Of(inst)
	if occ.Occupied+quantity > inst.Capacity {
		return model.Checkout{}, insufficientCapacity(occ.Available)
	}

	c := model.Checkout{
		InstrumentID: inst.ID,
		UserID:       userID,
		SessionID:    sessionID,
		StartedAt:    now,
		Quantity:     quantity,
	}
	inst.Checkouts = append(inst.Checkouts, c)
	inst.AvailableHint = Of(inst).Available
	return c, nil
}

// Release removes userID's checkout from inst and folds its duration into
// the instrument's usage counters.
func Release(inst *model.Instrument, userID uuid.UUID, now time.Time) (Released, error) {
	idx := findCheckout(inst, userID)
	if idx < 0 {
		return Released{}, ErrNoActiveCheckout
	}

	c := inst.Checkouts[idx]
	inst.Checkouts = append(inst.Checkouts[:idx:idx], inst.Checkouts[idx+1:]...)

	duration := DurationMinutes(c.StartedAt, now)
	inst.CumulativeUsageMinutes += int64(duration)
	inst.UsageSessionCount++
	inst.AvailableHint = Of(inst).Available

	return Released{
		Instrument:      inst,
		Checkout:        c,
		EndedAt:         now,
		DurationMinutes: duration,
		Occupancy:       Of(inst),
	}, nil
}

// Resize sets a new capacity. Existing checkouts are kept even when they
// exceed it; new reservations are refused until occupancy drops.
func Resize(inst *model.Instrument, capacity int) error {
	if capacity < 0 {
		return ErrInvalidCapacity
	}
	inst.Capacity = capacity
	inst.AvailableHint = Of(inst).Available
	return nil
}

// CheckRemovable refuses removal while any checkout is active.
func CheckRemovable(inst *model.Instrument) error {
	if len(inst.Checkouts) > 0 {
		return ErrInUse
	}
	return nil
}
