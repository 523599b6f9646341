package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"labbook-backend/internal/model"
)

func (s *gormStore) sessionQuery(ctx context.Context, f SessionFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.UsageSession{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.InstrumentID != nil {
		q = q.Where("instrument_id = ?", *f.InstrumentID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.StartedSince != nil {
		q = q.Where("started_at >= ?", f.StartedSince.UTC())
	}
	return q
}

func (s *gormStore) ListSessions(ctx context.Context, f SessionFilter) ([]model.UsageSession, int64, error) {
	var total int64
	if err := s.sessionQuery(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count usage sessions: %w", err)
	}

	page := f.Page.Normalize()
	var sessions []model.UsageSession
	err := s.sessionQuery(ctx, f).
		Preload("User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name", "email", "role")
		}).
		Preload("Instrument", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name", "category", "location", "specifications")
		}).
		Order("started_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list usage sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *gormStore) SumSessions(ctx context.Context, f SessionFilter) (Totals, error) {
	var totals Totals
	err := s.sessionQuery(ctx, f).
		Select("COUNT(*) AS sessions, COALESCE(SUM(duration_minutes), 0) AS minutes").
		Scan(&totals).Error
	if err != nil {
		return Totals{}, fmt.Errorf("failed to sum usage sessions: %w", err)
	}
	return totals, nil
}

func (s *gormStore) TopInstruments(ctx context.Context, since time.Time, limit int) ([]InstrumentUsage, error) {
	var rows []InstrumentUsage
	err := s.db.WithContext(ctx).
		Table("usage_sessions AS s").
		Select("s.instrument_id AS instrument_id, "+
			"COALESCE(i.name, '') AS name, "+
			"COALESCE(i.category, '') AS category, "+
			"SUM(s.duration_minutes) AS total_minutes, "+
			"COUNT(*) AS session_count").
		Joins("LEFT JOIN instruments i ON i.id = s.instrument_id").
		Where("s.status IN ? AND s.started_at >= ?", statusStrings(model.TerminalStatuses), since.UTC()).
		Group("s.instrument_id, i.name, i.category").
		Order("total_minutes DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank instruments: %w", err)
	}
	return rows, nil
}
