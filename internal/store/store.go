package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labbook-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	// Transaction runs fn in a single database transaction. fn's error rolls it back.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]model.User, int64, error)
	UpdateUser(ctx context.Context, id uuid.UUID, fields map[string]any) (*model.User, error)
	CountUsers(ctx context.Context) (UserCounts, error)

	CreateInstrument(ctx context.Context, inst *model.Instrument) error
	GetInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error)
	ListInstruments(ctx context.Context, f InstrumentFilter) ([]model.Instrument, int64, error)
	ListInstrumentIDs(ctx context.Context) ([]uuid.UUID, error)

	ListSessions(ctx context.Context, f SessionFilter) ([]model.UsageSession, int64, error)
	SumSessions(ctx context.Context, f SessionFilter) (Totals, error)
	TopInstruments(ctx context.Context, since time.Time, limit int) ([]InstrumentUsage, error)
}

// Tx is the set of writes the ledgers perform inside one transaction.
type Tx interface {
	// LockInstrument loads an instrument with its checkouts ordered by start time.
	// On PostgreSQL the instrument row is locked until the transaction ends.
	LockInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error)
	// SaveInstrument persists inst if its stored version still equals expectedVersion
	// and bumps the version. A mismatch returns ErrConflict.
	SaveInstrument(ctx context.Context, inst *model.Instrument, expectedVersion int64) error
	DeleteInstrument(ctx context.Context, id uuid.UUID) error

	InsertCheckout(ctx context.Context, c *model.Checkout) error
	DeleteCheckout(ctx context.Context, instrumentID, userID uuid.UUID) error

	InsertSession(ctx context.Context, s *model.UsageSession) error
	// FindActiveSession returns the active session with sessionID, falling back to
	// the most recent active session for (instrumentID, userID).
	FindActiveSession(ctx context.Context, sessionID, instrumentID, userID uuid.UUID) (*model.UsageSession, error)
	// CloseSession writes the terminal fields of s. It fails with ErrConflict when
	// the stored row is no longer active.
	CloseSession(ctx context.Context, s *model.UsageSession) error
	ActiveSessionsFor(ctx context.Context, instrumentID uuid.UUID) ([]model.UsageSession, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	// Busy or serialization errors can surface at COMMIT.
	if err != nil && !errors.Is(err, ErrConflict) && isConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// gormTx implements Tx on an open gorm transaction.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error) {
	q := t.db.WithContext(ctx)
	if t.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var inst model.Instrument
	if err := q.Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, translate(err)
	}

	if err := t.db.WithContext(ctx).
		Where("instrument_id = ?", id).
		Order("started_at ASC").
		Find(&inst.Checkouts).Error; err != nil {
		return nil, fmt.Errorf("failed to load checkouts for instrument %s: %w", id, err)
	}
	return &inst, nil
}

// instrumentColumns are the columns SaveInstrument writes.
var instrumentColumns = []string{
	"name", "description", "category", "location", "image_url", "manual_guide",
	"specifications", "capacity", "status", "available_quantity",
	"cumulative_usage_minutes", "usage_session_count", "version", "updated_at",
}

func (t *gormTx) SaveInstrument(ctx context.Context, inst *model.Instrument, expectedVersion int64) error {
	row := *inst
	row.Checkouts = nil
	row.Version = expectedVersion + 1
	row.UpdatedAt = time.Now().UTC()

	res := t.db.WithContext(ctx).
		Model(&row).
		Where("version = ?", expectedVersion).
		Select(instrumentColumns).
		Omit(clause.Associations).
		Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to save instrument %s: %w", inst.ID, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: instrument %s version %d is stale", ErrConflict, inst.ID, expectedVersion)
	}

	inst.Version = row.Version
	inst.UpdatedAt = row.UpdatedAt
	return nil
}

func (t *gormTx) DeleteInstrument(ctx context.Context, id uuid.UUID) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Instrument{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete instrument %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) InsertCheckout(ctx context.Context, c *model.Checkout) error {
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		return fmt.Errorf("failed to insert checkout for instrument %s: %w", c.InstrumentID, translate(err))
	}
	return nil
}

func (t *gormTx) DeleteCheckout(ctx context.Context, instrumentID, userID uuid.UUID) error {
	res := t.db.WithContext(ctx).
		Where("instrument_id = ? AND user_id = ?", instrumentID, userID).
		Delete(&model.Checkout{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete checkout for instrument %s: %w", instrumentID, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		// Loaded under lock a moment ago; another process removed it.
		return fmt.Errorf("%w: checkout for instrument %s vanished", ErrConflict, instrumentID)
	}
	return nil
}

func (t *gormTx) InsertSession(ctx context.Context, s *model.UsageSession) error {
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error; err != nil {
		return fmt.Errorf("failed to insert usage session: %w", translate(err))
	}
	return nil
}

func (t *gormTx) FindActiveSession(ctx context.Context, sessionID, instrumentID, userID uuid.UUID) (*model.UsageSession, error) {
	var sess model.UsageSession
	err := t.db.WithContext(ctx).
		Where("id = ? AND status = ?", sessionID, model.SessionActive).
		First(&sess).Error
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load usage session %s: %w", sessionID, err)
	}

	err = t.db.WithContext(ctx).
		Where("instrument_id = ? AND user_id = ? AND status = ?", instrumentID, userID, model.SessionActive).
		Order("started_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (t *gormTx) CloseSession(ctx context.Context, s *model.UsageSession) error {
	res := t.db.WithContext(ctx).
		Model(&model.UsageSession{}).
		Where("id = ? AND status = ?", s.ID, model.SessionActive).
		Updates(map[string]any{
			"status":             s.Status,
			"ended_at":           s.EndedAt,
			"duration_minutes":   s.DurationMinutes,
			"notes":              s.Notes,
			"terminated_by":      s.TerminatedBy,
			"termination_reason": s.TerminationReason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to close usage session %s: %w", s.ID, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: usage session %s is no longer active", ErrConflict, s.ID)
	}
	return nil
}

func (t *gormTx) ActiveSessionsFor(ctx context.Context, instrumentID uuid.UUID) ([]model.UsageSession, error) {
	var sessions []model.UsageSession
	err := t.db.WithContext(ctx).
		Where("instrument_id = ? AND status = ?", instrumentID, model.SessionActive).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions for instrument %s: %w", instrumentID, err)
	}
	return sessions, nil
}
