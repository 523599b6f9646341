package ledger

import "labbook-backend/internal/model"

// Occupancy is the derived view of an instrument's capacity. It is always
// computed from the active checkouts and never stored.
type Occupancy struct {
	Capacity      int  `json:"capacity"`
	Occupied      int  `json:"occupiedQuantity"`
	Available     int  `json:"availableQuantity"`
	FullyOccupied bool `json:"isFullyOccupied"`
}

// Derive computes occupancy for a capacity and a set of active checkouts.
func Derive(capacity int, checkouts []model.Checkout) Occupancy {
	occupied := 0
	for _, c := range checkouts {
		occupied += c.Quantity
	}
	available := capacity - occupied
	if available < 0 {
		available = 0
	}
	return Occupancy{
		Capacity:      capacity,
		Occupied:      occupied,
		Available:     available,
		FullyOccupied: occupied >= capacity,
	}
}

// Of derives the occupancy of inst.
func Of(inst *model.Instrument) Occupancy {
	return Derive(inst.Capacity, inst.Checkouts)
}
