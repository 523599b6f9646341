package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a usage session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionTerminated SessionStatus = "terminated"
)

// Terminal reports whether s is a final state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionTerminated
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	return s == SessionActive || s.Terminal()
}

// TerminalStatuses lists the states counted by usage statistics.
var TerminalStatuses = []SessionStatus{SessionCompleted, SessionTerminated}

// UsageSession represents the historical log of instrument usage (cold table).
// A row is created active and transitions exactly once to a terminal state.
type UsageSession struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID     `gorm:"type:uuid;not null;index:idx_usage_user_status,priority:1" json:"userId"`
	InstrumentID      uuid.UUID     `gorm:"type:uuid;not null;index:idx_usage_instrument_status,priority:1" json:"instrumentId"`
	Status            SessionStatus `gorm:"size:20;not null;index:idx_usage_user_status,priority:2;index:idx_usage_instrument_status,priority:2" json:"status"`
	StartedAt         time.Time     `gorm:"not null;index" json:"startTime"`
	EndedAt           *time.Time    `json:"endTime"`
	Quantity          int           `gorm:"not null" json:"quantityUsed"`
	DurationMinutes   int           `gorm:"not null;default:0" json:"duration"`
	Notes             string        `gorm:"size:500" json:"notes,omitempty"`
	TerminatedBy      *uuid.UUID    `gorm:"type:uuid" json:"terminatedBy,omitempty"`
	TerminationReason string        `gorm:"size:500" json:"terminationReason,omitempty"`
	CreatedAt         time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updatedAt"`

	// Associations
	User       *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Instrument *Instrument `gorm:"foreignKey:InstrumentID" json:"instrument,omitempty"`
}
