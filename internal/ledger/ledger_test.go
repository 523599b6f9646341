package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labbook-backend/config"
	"labbook-backend/internal/db"
	"labbook-backend/internal/logging"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open(&config.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return store.NewGormStore(gdb)
}

func seedInstrument(t *testing.T, s store.Store, capacity int) *model.Instrument {
	t.Helper()
	inst := &model.Instrument{
		ID:            uuid.New(),
		Name:          "PCR machine",
		Description:   "thermal cycler",
		Category:      "molecular",
		Capacity:      capacity,
		AvailableHint: capacity,
		Status:        model.InstrumentAvailable,
		Version:       1,
	}
	require.NoError(t, s.CreateInstrument(context.Background(), inst))
	return inst
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(s store.Store, clock *testClock) *Ledger {
	return New(s, WithClock(clock.Now), WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	inst := seedInstrument(t, s, 2)
	clock := &testClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	l := newTestLedger(s, clock)
	alice := uuid.New()

	res, err := l.TryReserve(ctx, inst.ID, alice, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, Occupancy{Capacity: 2, Occupied: 1, Available: 1}, res.Occupancy)

	_, err = l.TryReserve(ctx, inst.ID, alice, 1, nil)
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	stored, err := s.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, stored.Checkouts, 1)
	assert.Equal(t, res.Checkout.SessionID, stored.Checkouts[0].SessionID)
	assert.Equal(t, 1, stored.AvailableHint)
	assert.Equal(t, int64(2), stored.Version)

	clock.Advance(42 * time.Minute)
	rel, err := l.Release(ctx, inst.ID, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, rel.DurationMinutes)
	assert.Nil(t, rel.ActingAdminID)

	stored, err = s.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Checkouts)
	assert.Equal(t, int64(42), stored.CumulativeUsageMinutes)
	assert.Equal(t, int64(1), stored.UsageSessionCount)
	assert.Equal(t, 2, stored.AvailableHint)

	_, err = l.Release(ctx, inst.ID, alice, nil)
	assert.ErrorIs(t, err, ErrNoActiveCheckout)
}

func TestLedger_NotFound(t *testing.T) {
	l := newTestLedger(newTestStore(t), &testClock{t: time.Now().UTC()})
	_, err := l.TryReserve(context.Background(), uuid.New(), uuid.New(), 1, nil)
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestLedger_HookFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	inst := seedInstrument(t, s, 2)
	l := newTestLedger(s, &testClock{t: time.Now().UTC()})

	boom := errors.New("usage ledger unavailable")
	_, err := l.TryReserve(ctx, inst.ID, uuid.New(), 1, func(ctx context.Context, tx store.Tx, r *Reservation) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Checkouts)
	assert.Equal(t, int64(1), stored.Version)
}

// racingStore makes the first lost SaveInstrument calls fail as if another
// writer had bumped the version in between.
type racingStore struct {
	store.Store
	mu     sync.Mutex
	losses int
	saves  int
}

func (r *racingStore) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.Transaction(ctx, func(tx store.Tx) error {
		return fn(&racingTx{Tx: tx, parent: r})
	})
}

type racingTx struct {
	store.Tx
	parent *racingStore
}

func (t *racingTx) SaveInstrument(ctx context.Context, inst *model.Instrument, expectedVersion int64) error {
	t.parent.mu.Lock()
	t.parent.saves++
	lose := t.parent.losses > 0
	if lose {
		t.parent.losses--
	}
	t.parent.mu.Unlock()
	if lose {
		return fmt.Errorf("version %d is stale: %w", expectedVersion, store.ErrConflict)
	}
	return t.Tx.SaveInstrument(ctx, inst, expectedVersion)
}

func TestLedger_RetriesLostVersionRace(t *testing.T) {
	testCases := []struct {
		name          string
		losses        int
		expectedErr   error
		expectedSaves int
		expectedHeld  int
	}{
		{name: "one lost race is retried", losses: 1, expectedSaves: 2, expectedHeld: 1},
		{name: "two lost races are retried", losses: 2, expectedSaves: 3, expectedHeld: 1},
		{name: "attempt budget exhausted", losses: 3, expectedErr: ErrConflict, expectedSaves: 3, expectedHeld: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			base := newTestStore(t)
			inst := seedInstrument(t, base, 2)
			rs := &racingStore{Store: base, losses: tc.losses}
			l := newTestLedger(rs, &testClock{t: time.Now().UTC()})

			_, err := l.TryReserve(ctx, inst.ID, uuid.New(), 1, nil)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.expectedSaves, rs.saves)

			stored, err := base.GetInstrument(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Checkouts, tc.expectedHeld, "a lost attempt leaves no checkout behind")
		})
	}
}

func TestLedger_ConcurrentReservationsNeverOverbook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const capacity, callers = 5, 20
	inst := seedInstrument(t, s, capacity)
	clock := &testClock{t: time.Now().UTC()}
	// Two ledgers hold separate lock tables, so only the database serializes
	// their transactions. Lost version races are covered by
	// TestLedger_RetriesLostVersionRace.
	ledgers := []*Ledger{newTestLedger(s, clock), newTestLedger(s, clock)}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledgers[i%2].TryReserve(ctx, inst.ID, uuid.New(), 1, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrInsufficientCapacity):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, granted)
	assert.Equal(t, callers-capacity, rejected)

	stored, err := s.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Checkouts, capacity)
	assert.Equal(t, Occupancy{Capacity: capacity, Occupied: capacity, Available: 0, FullyOccupied: true}, Of(stored))
}

func TestSetCapacity_ShrinkDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	inst := seedInstrument(t, s, 3)
	l := newTestLedger(s, &testClock{t: time.Now().UTC()})

	for i := 0; i < 3; i++ {
		_, err := l.TryReserve(ctx, inst.ID, uuid.New(), 1, nil)
		require.NoError(t, err)
	}

	updated, err := l.SetCapacity(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.Len(t, updated.Checkouts, 3)

	stored, err := s.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Capacity)
	assert.Len(t, stored.Checkouts, 3, "shrinking capacity keeps every active checkout")
	assert.Equal(t, 0, Of(stored).Available)

	_, err = l.TryReserve(ctx, inst.ID, uuid.New(), 1, nil)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)

	_, err = l.SetCapacity(ctx, inst.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestLedger_Remove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	inst := seedInstrument(t, s, 1)
	l := newTestLedger(s, &testClock{t: time.Now().UTC()})
	user := uuid.New()

	_, err := l.TryReserve(ctx, inst.ID, user, 1, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Remove(ctx, inst.ID), ErrInUse)

	_, err = l.Release(ctx, inst.ID, user, nil)
	require.NoError(t, err)
	require.NoError(t, l.Remove(ctx, inst.ID))

	_, err = s.GetInstrument(ctx, inst.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, l.Remove(ctx, inst.ID), ErrInstrumentNotFound)
}

func TestReleaseOnBehalf_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	inst := seedInstrument(t, s, 1)
	l := newTestLedger(s, &testClock{t: time.Now().UTC()})
	user := uuid.New()
	_, err := l.TryReserve(ctx, inst.ID, user, 1, nil)
	require.NoError(t, err)

	_, err = l.ReleaseOnBehalf(ctx, inst.ID, user, model.Principal{UserID: uuid.New(), Role: model.RoleUser}, "", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	admin := model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}
	rel, err := l.ReleaseOnBehalf(ctx, inst.ID, user, admin, "left running overnight", nil)
	require.NoError(t, err)
	require.NotNil(t, rel.ActingAdminID)
	assert.Equal(t, admin.UserID, *rel.ActingAdminID)
	assert.Equal(t, "left running overnight", rel.Reason)
}

// conflictStore fails the first n transactions with store.ErrConflict.
type conflictStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictStore) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: simulated", store.ErrConflict)
	}
	return c.Store.Transaction(ctx, fn)
}

func TestLedger_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	inst := seedInstrument(t, base, 1)

	t.Run("succeeds within budget", func(t *testing.T) {
		cs := &conflictStore{Store: base, failures: 2}
		l := newTestLedger(cs, &testClock{t: time.Now().UTC()})
		_, err := l.TryReserve(ctx, inst.ID, uuid.New(), 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, cs.calls)
	})

	t.Run("surfaces conflict when budget exhausted", func(t *testing.T) {
		cs := &conflictStore{Store: base, failures: 10}
		l := newTestLedger(cs, &testClock{t: time.Now().UTC()})
		_, err := l.SetCapacity(ctx, inst.ID, 4)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, 3, cs.calls)
	})
}
