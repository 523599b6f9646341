package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"labbook-backend/config"
	"labbook-backend/internal/db"
	"labbook-backend/internal/ledger"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) (*gorm.DB, store.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:usage_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open(&config.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb, store.NewGormStore(gdb)
}

func seedInstrument(t *testing.T, gdb *gorm.DB, name string) uuid.UUID {
	t.Helper()
	inst := model.Instrument{
		ID: uuid.New(), Name: name, Description: name, Category: "general",
		Capacity: 4, AvailableHint: 4, Status: model.InstrumentAvailable, Version: 1,
		Specifications: model.Specifications{},
	}
	require.NoError(t, gdb.Create(&inst).Error)
	return inst.ID
}

func seedSession(t *testing.T, gdb *gorm.DB, userID, instrumentID uuid.UUID, status model.SessionStatus, startedAgo time.Duration, minutes int) model.UsageSession {
	t.Helper()
	s := model.UsageSession{
		ID:           uuid.New(),
		UserID:       userID,
		InstrumentID: instrumentID,
		Status:       status,
		StartedAt:    now.Add(-startedAgo),
		Quantity:     1,
	}
	if status.Terminal() {
		ended := s.StartedAt.Add(time.Duration(minutes) * time.Minute)
		s.EndedAt = &ended
		s.DurationMinutes = minutes
	}
	require.NoError(t, gdb.Create(&s).Error)
	return s
}

func TestStatsFrom(t *testing.T) {
	assert.Equal(t, Stats{}, statsFrom(store.Totals{}))
	assert.Equal(t, Stats{TotalSessions: 3, TotalMinutes: 100, AverageMinutes: 33}, statsFrom(store.Totals{Sessions: 3, Minutes: 100}))
	assert.Equal(t, Stats{TotalSessions: 2, TotalMinutes: 5, AverageMinutes: 3}, statsFrom(store.Totals{Sessions: 2, Minutes: 5}))
}

func TestUserStats_ExcludesActiveSessions(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	alice := uuid.New()
	a, b := seedInstrument(t, gdb, "A"), seedInstrument(t, gdb, "B")

	stats, err := r.UserStats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats, "no sessions yields zeros")

	seedSession(t, gdb, alice, a, model.SessionCompleted, 5*time.Hour, 30)
	seedSession(t, gdb, alice, b, model.SessionTerminated, 4*time.Hour, 61)
	seedSession(t, gdb, alice, a, model.SessionActive, time.Hour, 0)
	seedSession(t, gdb, uuid.New(), a, model.SessionCompleted, time.Hour, 500)

	stats, err = r.UserStats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 2, TotalMinutes: 91, AverageMinutes: 46}, stats)
}

func TestGlobalStatsAndRanking(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	a, b, c := seedInstrument(t, gdb, "Spectrometer"), seedInstrument(t, gdb, "Centrifuge"), seedInstrument(t, gdb, "Autoclave")
	u := uuid.New()

	seedSession(t, gdb, u, a, model.SessionCompleted, 2*24*time.Hour, 40)
	seedSession(t, gdb, u, a, model.SessionCompleted, 3*24*time.Hour, 40)
	seedSession(t, gdb, u, b, model.SessionTerminated, 24*time.Hour, 100)
	seedSession(t, gdb, u, c, model.SessionCompleted, 45*24*time.Hour, 999) // outside the window
	seedSession(t, gdb, u, c, model.SessionActive, time.Hour, 0)

	stats, err := r.GlobalStats(ctx, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 3, TotalMinutes: 180, AverageMinutes: 60}, stats)

	all, err := r.GlobalStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.TotalSessions)

	top, err := r.TopInstruments(ctx, DefaultWindow, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, b, top[0].InstrumentID)
	assert.Equal(t, "Centrifuge", top[0].Name)
	assert.Equal(t, int64(100), top[0].TotalMinutes)
	assert.Equal(t, a, top[1].InstrumentID)
	assert.Equal(t, int64(80), top[1].TotalMinutes)
	assert.Equal(t, int64(2), top[1].SessionCount)
}

func TestStats_ScopeAndWindow(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	inst := seedInstrument(t, gdb, "Microscope")
	alice := model.Principal{UserID: uuid.New(), Role: model.RoleUser}
	admin := model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}

	seedSession(t, gdb, alice.UserID, inst, model.SessionCompleted, 2*24*time.Hour, 20)
	seedSession(t, gdb, alice.UserID, inst, model.SessionCompleted, 10*24*time.Hour, 40)
	seedSession(t, gdb, admin.UserID, inst, model.SessionCompleted, 24*time.Hour, 90)

	week, err := r.Stats(ctx, alice, ScopeSelf, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 1, TotalMinutes: 20, AverageMinutes: 20}, week)

	lifetime, err := r.Stats(ctx, alice, ScopeSelf, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 2, TotalMinutes: 60, AverageMinutes: 30}, lifetime)

	_, err = r.Stats(ctx, alice, ScopeAll, DefaultWindow)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	everyone, err := r.Stats(ctx, admin, ScopeAll, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 3, TotalMinutes: 150, AverageMinutes: 50}, everyone)

	_, err = r.Stats(ctx, admin, "team", 0)
	assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
}

func TestInstrumentStats(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	inst := seedInstrument(t, gdb, "NMR")

	_, err := r.InstrumentStats(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrInstrumentNotFound)

	for i := 0; i < 12; i++ {
		seedSession(t, gdb, uuid.New(), inst, model.SessionCompleted, time.Duration(i+2)*time.Hour, 10)
	}
	seedSession(t, gdb, uuid.New(), inst, model.SessionActive, time.Hour, 0)

	rep, err := r.InstrumentStats(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSessions: 12, TotalMinutes: 120, AverageMinutes: 10}, rep.Stats)
	assert.Len(t, rep.RecentSessions, 10)
	assert.Equal(t, model.SessionActive, rep.RecentSessions[0].Status, "newest first")
	assert.Empty(t, rep.CurrentUsers)
	assert.Equal(t, 4, rep.Occupancy.Available)
}

func TestActiveAndHistoryScopes(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	inst := seedInstrument(t, gdb, "FACS")
	alice := model.Principal{UserID: uuid.New(), Role: model.RoleUser}
	root := model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}
	bob := uuid.New()

	seedSession(t, gdb, alice.UserID, inst, model.SessionCompleted, 3*time.Hour, 20)
	seedSession(t, gdb, alice.UserID, inst, model.SessionActive, time.Hour, 0)
	seedSession(t, gdb, bob, inst, model.SessionActive, 2*time.Hour, 0)

	mine, total, err := r.Active(ctx, alice, ScopeSelf, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, mine, 1)
	assert.Equal(t, alice.UserID, mine[0].UserID)

	_, _, err = r.Active(ctx, alice, ScopeAll, store.Page{})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	everyone, total, err := r.Active(ctx, root, ScopeAll, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, everyone, 2)
	assert.True(t, everyone[0].StartedAt.After(everyone[1].StartedAt))
	require.NotNil(t, everyone[0].Instrument)
	assert.Equal(t, "FACS", everyone[0].Instrument.Name)

	hist, err := r.History(ctx, alice, HistoryQuery{Scope: ScopeSelf, Status: model.SessionCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), hist.Total)
	require.NotNil(t, hist.TotalMinutes)
	assert.Equal(t, int64(20), *hist.TotalMinutes)

	_, err = r.History(ctx, alice, HistoryQuery{Scope: ScopeSelf, Status: "paused"})
	assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))

	byBob, err := r.History(ctx, root, HistoryQuery{Scope: ScopeAll, UserID: &bob})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byBob.Total)
	assert.Nil(t, byBob.TotalMinutes)
}

func TestCurrentlyUsing(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	facs := seedInstrument(t, gdb, "FACS")
	hplc := seedInstrument(t, gdb, "HPLC")
	alice, bob := uuid.New(), uuid.New()

	seedSession(t, gdb, alice, facs, model.SessionCompleted, 5*time.Hour, 30)
	seedSession(t, gdb, alice, facs, model.SessionActive, 2*time.Hour, 0)
	seedSession(t, gdb, alice, hplc, model.SessionActive, time.Hour, 0)
	seedSession(t, gdb, bob, hplc, model.SessionActive, time.Hour, 0)

	using, err := r.CurrentlyUsing(ctx, alice)
	require.NoError(t, err)
	require.Len(t, using, 2)
	for _, sess := range using {
		assert.Equal(t, model.SessionActive, sess.Status)
		require.NotNil(t, sess.Instrument)
	}
	assert.Equal(t, "HPLC", using[0].Instrument.Name)
	assert.Equal(t, "FACS", using[1].Instrument.Name)

	none, err := r.CurrentlyUsing(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	gdb, s := newTestDB(t)
	r := NewReporter(s, func() time.Time { return now })
	inst := seedInstrument(t, gdb, "Cryostat")

	users := []model.User{
		{ID: uuid.New(), Name: "Ada", Email: "ada@lab.test", PasswordHash: "x", Role: model.RoleAdmin, IsActive: true},
		{ID: uuid.New(), Name: "Ben", Email: "ben@lab.test", PasswordHash: "x", Role: model.RoleUser, IsActive: true},
		{ID: uuid.New(), Name: "Cy", Email: "cy@lab.test", PasswordHash: "x", Role: model.RoleUser, IsActive: true},
	}
	require.NoError(t, gdb.Create(&users).Error)
	require.NoError(t, gdb.Model(&model.User{}).Where("id = ?", users[2].ID).Update("is_active", false).Error)

	seedSession(t, gdb, users[1].ID, inst, model.SessionCompleted, 24*time.Hour, 25)
	seedSession(t, gdb, users[1].ID, inst, model.SessionActive, time.Hour, 0)

	d, err := r.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.UserCounts{Total: 3, Active: 2, Admins: 1}, d.Users)
	assert.Equal(t, int64(1), d.ActiveSessions)
	assert.Equal(t, Stats{TotalSessions: 1, TotalMinutes: 25, AverageMinutes: 25}, d.Recent)
	assert.Equal(t, 30, d.WindowDays)
	require.Len(t, d.TopInstruments, 1)
	assert.Equal(t, inst, d.TopInstruments[0].InstrumentID)
}
