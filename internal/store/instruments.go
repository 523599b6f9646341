package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"labbook-backend/internal/model"
)

// preloadCheckouts attaches active checkouts with their holder's display data.
func preloadCheckouts(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Checkouts", func(db *gorm.DB) *gorm.DB {
			return db.Order("started_at ASC")
		}).
		Preload("Checkouts.User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name", "email", "role")
		})
}

func (s *gormStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	if inst.Specifications == nil {
		inst.Specifications = model.Specifications{}
	}
	if err := s.db.WithContext(ctx).Omit("Checkouts").Create(inst).Error; err != nil {
		return fmt.Errorf("failed to create instrument %q: %w", inst.Name, translate(err))
	}
	return nil
}

func (s *gormStore) GetInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error) {
	var inst model.Instrument
	if err := preloadCheckouts(s.db.WithContext(ctx)).Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, translate(err)
	}
	return &inst, nil
}

func (s *gormStore) ListInstruments(ctx context.Context, f InstrumentFilter) ([]model.Instrument, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Instrument{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(category) LIKE ?", like, like, like)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count instruments: %w", err)
	}

	page := f.Page.Normalize()
	var instruments []model.Instrument
	err := preloadCheckouts(q).
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&instruments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list instruments: %w", err)
	}
	return instruments, total, nil
}

func (s *gormStore) ListInstrumentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&model.Instrument{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list instrument ids: %w", err)
	}
	return ids, nil
}
