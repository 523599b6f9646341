package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InstrumentStatus is the administrative status of an instrument.
type InstrumentStatus string

const (
	InstrumentAvailable   InstrumentStatus = "available"
	InstrumentUnavailable InstrumentStatus = "unavailable"
	InstrumentMaintenance InstrumentStatus = "maintenance"
)

// Valid reports whether s is a known status.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case InstrumentAvailable, InstrumentUnavailable, InstrumentMaintenance:
		return true
	}
	return false
}

// Specifications is free-form key/value metadata attached to an instrument.
// The zero value used by the application is an empty, non-nil map.
type Specifications map[string]string

// Instrument represents a bookable piece of lab equipment with a unit capacity.
type Instrument struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string           `gorm:"size:200;not null" json:"name"`
	Description    string           `gorm:"type:text;not null" json:"description"`
	Category       string           `gorm:"size:100;not null;index" json:"category"`
	Location       string           `gorm:"size:200" json:"location"`
	ImageURL       string           `gorm:"size:500" json:"imageUrl"`
	ManualGuide    string           `gorm:"type:text" json:"manualGuide"`
	Specifications Specifications   `gorm:"type:text;serializer:json" json:"specifications"`
	Capacity       int              `gorm:"not null;check:capacity >= 0" json:"quantity"`
	Status         InstrumentStatus `gorm:"size:20;not null;default:available;index" json:"status"`

	// AvailableHint mirrors the derived available quantity at the last mutation.
	// It is never read when deciding a reservation.
	AvailableHint int `gorm:"column:available_quantity;not null;default:0" json:"-"`

	CumulativeUsageMinutes int64 `gorm:"not null;default:0" json:"totalUsageTime"`
	UsageSessionCount      int64 `gorm:"not null;default:0" json:"usageCount"`
	Version                int64 `gorm:"not null;default:1" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Checkouts []Checkout `gorm:"foreignKey:InstrumentID" json:"-"`
}

// AfterFind normalizes a missing specifications column to an empty map.
func (i *Instrument) AfterFind(tx *gorm.DB) error {
	if i.Specifications == nil {
		i.Specifications = Specifications{}
	}
	return nil
}

// Checkout is an active hold of units on an instrument by one user (hot table).
// The composite primary key allows at most one checkout per user per instrument.
type Checkout struct {
	InstrumentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"instrumentId"`
	UserID       uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"userId"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"sessionId"`
	StartedAt    time.Time `gorm:"not null" json:"startTime"`
	Quantity     int       `gorm:"not null;check:quantity >= 1" json:"quantity"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName overrides the default "checkouts".
func (Checkout) TableName() string {
	return "instrument_checkouts"
}
