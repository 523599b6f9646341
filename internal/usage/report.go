package usage

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"labbook-backend/internal/ledger"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

const (
	// DefaultWindow is the rolling window used by dashboards and rankings.
	DefaultWindow = 30 * 24 * time.Hour
	// DefaultTopLimit is the size of the instrument ranking.
	DefaultTopLimit = 5
	// recentSessionsLimit bounds the per-instrument recent history.
	recentSessionsLimit = 10
	// currentlyUsingLimit bounds a user's listed active sessions.
	currentlyUsingLimit = 100
)

// Scope selects whose sessions a query covers.
type Scope string

const (
	ScopeSelf Scope = "self"
	ScopeAll  Scope = "all"
)

// Stats aggregates terminal sessions. Active sessions are never counted.
type Stats struct {
	TotalSessions  int64 `json:"totalSessions"`
	TotalMinutes   int64 `json:"totalUsageTime"`
	AverageMinutes int64 `json:"averageUsageTime"`
}

func statsFrom(t store.Totals) Stats {
	s := Stats{TotalSessions: t.Sessions, TotalMinutes: t.Minutes}
	if t.Sessions > 0 {
		s.AverageMinutes = int64(math.Round(float64(t.Minutes) / float64(t.Sessions)))
	}
	return s
}

// Reporter answers read-only questions about usage.
type Reporter struct {
	store store.Store
	now   func() time.Time
}

// NewReporter creates a Reporter. A nil clock uses the wall clock in UTC.
func NewReporter(s store.Store, now func() time.Time) *Reporter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reporter{store: s, now: now}
}

// UserStats aggregates a user's ended sessions.
func (r *Reporter) UserStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	t, err := r.store.SumSessions(ctx, store.SessionFilter{
		UserID:   &userID,
		Statuses: model.TerminalStatuses,
	})
	if err != nil {
		return Stats{}, err
	}
	return statsFrom(t), nil
}

// GlobalStats aggregates ended sessions that started within window. A
// non-positive window covers all time.
func (r *Reporter) GlobalStats(ctx context.Context, window time.Duration) (Stats, error) {
	f := store.SessionFilter{Statuses: model.TerminalStatuses}
	if window > 0 {
		since := r.now().Add(-window)
		f.StartedSince = &since
	}
	t, err := r.store.SumSessions(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return statsFrom(t), nil
}

// Stats aggregates ended sessions that started within window for the actor
// (ScopeSelf) or everyone (ScopeAll, administrators only). A non-positive
// window covers all time.
func (r *Reporter) Stats(ctx context.Context, actor model.Principal, scope Scope, window time.Duration) (Stats, error) {
	f := store.SessionFilter{Statuses: model.TerminalStatuses}
	switch scope {
	case ScopeSelf, "":
		f.UserID = &actor.UserID
	case ScopeAll:
		if !actor.IsAdmin() {
			return Stats{}, ledger.ErrUnauthorized
		}
	default:
		return Stats{}, ledger.Validation("unknown scope %q", scope)
	}
	if window > 0 {
		since := r.now().Add(-window)
		f.StartedSince = &since
	}
	t, err := r.store.SumSessions(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return statsFrom(t), nil
}

// TopInstruments ranks instruments by summed session minutes within window.
func (r *Reporter) TopInstruments(ctx context.Context, window time.Duration, limit int) ([]store.InstrumentUsage, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	rows, err := r.store.TopInstruments(ctx, r.now().Add(-window), limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []store.InstrumentUsage{}
	}
	return rows, nil
}

// InstrumentReport is the per-instrument statistics view.
type InstrumentReport struct {
	InstrumentID   uuid.UUID            `json:"instrumentId"`
	Name           string               `json:"name"`
	Stats          Stats                `json:"stats"`
	Occupancy      ledger.Occupancy     `json:"occupancy"`
	CurrentUsers   []model.Checkout     `json:"currentUsers"`
	RecentSessions []model.UsageSession `json:"recentUsage"`
}

// InstrumentStats aggregates one instrument's ended sessions and lists its
// current holders and latest sessions.
func (r *Reporter) InstrumentStats(ctx context.Context, instrumentID uuid.UUID) (*InstrumentReport, error) {
	inst, err := r.store.GetInstrument(ctx, instrumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ledger.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, err
	}

	t, err := r.store.SumSessions(ctx, store.SessionFilter{
		InstrumentID: &instrumentID,
		Statuses:     model.TerminalStatuses,
	})
	if err != nil {
		return nil, err
	}

	recent, _, err := r.store.ListSessions(ctx, store.SessionFilter{
		InstrumentID: &instrumentID,
		Page:         store.Page{Page: 1, Limit: recentSessionsLimit},
	})
	if err != nil {
		return nil, err
	}

	current := inst.Checkouts
	if current == nil {
		current = []model.Checkout{}
	}
	return &InstrumentReport{
		InstrumentID:   inst.ID,
		Name:           inst.Name,
		Stats:          statsFrom(t),
		Occupancy:      ledger.Of(inst),
		CurrentUsers:   current,
		RecentSessions: recent,
	}, nil
}

// Active lists active sessions, newest first. ScopeAll requires an administrator.
func (r *Reporter) Active(ctx context.Context, actor model.Principal, scope Scope, page store.Page) ([]model.UsageSession, int64, error) {
	f := store.SessionFilter{
		Statuses: []model.SessionStatus{model.SessionActive},
		Page:     page,
	}
	switch scope {
	case ScopeSelf, "":
		f.UserID = &actor.UserID
	case ScopeAll:
		if !actor.IsAdmin() {
			return nil, 0, ledger.ErrUnauthorized
		}
	default:
		return nil, 0, ledger.Validation("unknown scope %q", scope)
	}
	return r.store.ListSessions(ctx, f)
}

// CurrentlyUsing lists userID's active sessions with instrument name and
// category, newest first.
func (r *Reporter) CurrentlyUsing(ctx context.Context, userID uuid.UUID) ([]model.UsageSession, error) {
	sessions, _, err := r.store.ListSessions(ctx, store.SessionFilter{
		UserID:   &userID,
		Statuses: []model.SessionStatus{model.SessionActive},
		Page:     store.Page{Page: 1, Limit: currentlyUsingLimit},
	})
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.UsageSession{}
	}
	return sessions, nil
}

// HistoryQuery filters History. UserID is honoured for ScopeAll only.
type HistoryQuery struct {
	Scope        Scope
	Status       model.SessionStatus
	InstrumentID *uuid.UUID
	UserID       *uuid.UUID
	store.Page
}

// HistoryPage is one page of session history.
type HistoryPage struct {
	Sessions []model.UsageSession `json:"sessions"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
	// TotalMinutes is the caller's lifetime usage; set for ScopeSelf.
	TotalMinutes *int64 `json:"totalUsageTime,omitempty"`
}

// History returns session history for the actor or, for administrators, everyone.
func (r *Reporter) History(ctx context.Context, actor model.Principal, q HistoryQuery) (*HistoryPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, ledger.Validation("unknown session status %q", q.Status)
	}

	f := store.SessionFilter{InstrumentID: q.InstrumentID, Page: q.Page.Normalize()}
	if q.Status != "" {
		f.Statuses = []model.SessionStatus{q.Status}
	}
	switch q.Scope {
	case ScopeSelf, "":
		f.UserID = &actor.UserID
	case ScopeAll:
		if !actor.IsAdmin() {
			return nil, ledger.ErrUnauthorized
		}
		f.UserID = q.UserID
	default:
		return nil, ledger.Validation("unknown scope %q", q.Scope)
	}

	sessions, total, err := r.store.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	page := &HistoryPage{Sessions: sessions, Total: total, Page: f.Page.Page, Limit: f.Page.Limit}

	if q.Scope != ScopeAll {
		st, err := r.UserStats(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		page.TotalMinutes = &st.TotalMinutes
	}
	return page, nil
}

// Dashboard is the administrator overview.
type Dashboard struct {
	Users          store.UserCounts        `json:"users"`
	ActiveSessions int64                   `json:"activeSessions"`
	Recent         Stats                   `json:"recent"`
	WindowDays     int                     `json:"windowDays"`
	TopInstruments []store.InstrumentUsage `json:"topInstruments"`
}

// Dashboard assembles user counts, live sessions and 30-day usage.
func (r *Reporter) Dashboard(ctx context.Context) (*Dashboard, error) {
	users, err := r.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	active, err := r.store.SumSessions(ctx, store.SessionFilter{
		Statuses: []model.SessionStatus{model.SessionActive},
	})
	if err != nil {
		return nil, err
	}
	recent, err := r.GlobalStats(ctx, DefaultWindow)
	if err != nil {
		return nil, err
	}
	top, err := r.TopInstruments(ctx, DefaultWindow, DefaultTopLimit)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Users:          users,
		ActiveSessions: active.Sessions,
		Recent:         recent,
		WindowDays:     int(DefaultWindow / (24 * time.Hour)),
		TopInstruments: top,
	}, nil
}
