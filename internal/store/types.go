package store

import (
	"time"

	"github.com/google/uuid"

	"labbook-backend/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a window of a listing. Zero values mean first page, default size.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// InstrumentFilter narrows ListInstruments.
type InstrumentFilter struct {
	Category string
	Status   model.InstrumentStatus
	Search   string
	Page
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Search string
	Role   model.Role
	Active *bool
	Page
}

// SessionFilter narrows usage session queries. Nil/empty fields are ignored.
type SessionFilter struct {
	UserID       *uuid.UUID
	InstrumentID *uuid.UUID
	Statuses     []model.SessionStatus
	StartedSince *time.Time
	Page
}

// Totals aggregates session counts and minutes.
type Totals struct {
	Sessions int64
	Minutes  int64
}

// UserCounts is used by the admin dashboard.
type UserCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
	Admins int64 `json:"admins"`
}

// InstrumentUsage is one row of the usage ranking.
type InstrumentUsage struct {
	InstrumentID uuid.UUID `json:"instrumentId"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	TotalMinutes int64     `json:"totalUsageTime"`
	SessionCount int64     `json:"sessionCount"`
}

func statusStrings(statuses []model.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
