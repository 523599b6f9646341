// Package catalog manages the instrument inventory. Capacity changes and
// removal go through the capacity ledger.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"labbook-backend/internal/ledger"
	"labbook-backend/internal/model"
	"labbook-backend/internal/store"
)

// CheckoutView is an active checkout with its holder's display name.
type CheckoutView struct {
	UserID    uuid.UUID `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	UserEmail string    `json:"userEmail,omitempty"`
	Quantity  int       `json:"quantity"`
	StartedAt string    `json:"startTime"`
}

// View is an instrument with its derived occupancy.
type View struct {
	*model.Instrument
	ledger.Occupancy
	CurrentUsers []CheckoutView `json:"currentUsers"`
}

// NewView builds the response view of inst.
func NewView(inst *model.Instrument) View {
	users := make([]CheckoutView, 0, len(inst.Checkouts))
	for _, c := range inst.Checkouts {
		cv := CheckoutView{
			UserID:    c.UserID,
			Quantity:  c.Quantity,
			StartedAt: c.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if c.User != nil {
			cv.UserName = c.User.Name
			cv.UserEmail = c.User.Email
		}
		users = append(users, cv)
	}
	return View{Instrument: inst, Occupancy: ledger.Of(inst), CurrentUsers: users}
}

// CreateInput describes a new instrument.
type CreateInput struct {
	Name           string                 `json:"name" validate:"required,max=200"`
	Description    string                 `json:"description" validate:"required"`
	Category       string                 `json:"category" validate:"required,max=100"`
	Location       string                 `json:"location" validate:"max=200"`
	ImageURL       string                 `json:"imageUrl" validate:"omitempty,max=500"`
	ManualGuide    string                 `json:"manualGuide"`
	Specifications model.Specifications   `json:"specifications"`
	Capacity       int                    `json:"quantity" validate:"min=1"`
	Status         model.InstrumentStatus `json:"status"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name           *string                 `json:"name" validate:"omitempty,min=1,max=200"`
	Description    *string                 `json:"description" validate:"omitempty,min=1"`
	Category       *string                 `json:"category" validate:"omitempty,min=1,max=100"`
	Location       *string                 `json:"location" validate:"omitempty,max=200"`
	ImageURL       *string                 `json:"imageUrl" validate:"omitempty,max=500"`
	ManualGuide    *string                 `json:"manualGuide"`
	Specifications *model.Specifications   `json:"specifications"`
	Capacity       *int                    `json:"quantity" validate:"omitempty,min=0"`
	Status         *model.InstrumentStatus `json:"status"`
}

// ListResult is one page of instruments.
type ListResult struct {
	Instruments []View `json:"instruments"`
	Total       int64  `json:"total"`
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
}

// Service implements instrument administration and lookup.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	validate *validator.Validate
	log      *slog.Logger
}

// NewService creates a catalog Service.
func NewService(s store.Store, l *ledger.Ledger, log *slog.Logger) *Service {
	return &Service{
		store:    s,
		ledger:   l,
		validate: validator.New(),
		log:      log,
	}
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ledger.Validation("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return ledger.Validation("%v", err)
}

// Create registers a new instrument. Admin only.
func (s *Service) Create(ctx context.Context, actor model.Principal, in CreateInput) (*View, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = model.InstrumentAvailable
	}
	if !status.Valid() {
		return nil, ledger.Validation("unknown instrument status %q", status)
	}
	specs := in.Specifications
	if specs == nil {
		specs = model.Specifications{}
	}

	inst := &model.Instrument{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Category:       strings.TrimSpace(in.Category),
		Location:       strings.TrimSpace(in.Location),
		ImageURL:       in.ImageURL,
		ManualGuide:    in.ManualGuide,
		Specifications: specs,
		Capacity:       in.Capacity,
		AvailableHint:  in.Capacity,
		Status:         status,
		Version:        1,
	}
	if err := s.store.CreateInstrument(ctx, inst); err != nil {
		return nil, err
	}

	s.log.Info("instrument created", "instrument_id", inst.ID, "name", inst.Name, "capacity", inst.Capacity, "admin_id", actor.UserID)
	v := NewView(inst)
	return &v, nil
}

// Get returns the instrument view.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	inst, err := s.store.GetInstrument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ledger.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, err
	}
	v := NewView(inst)
	return &v, nil
}

// List returns a filtered page of instruments, newest first.
func (s *Service) List(ctx context.Context, f store.InstrumentFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ledger.Validation("unknown instrument status %q", f.Status)
	}
	f.Page = f.Page.Normalize()
	instruments, total, err := s.store.ListInstruments(ctx, f)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(instruments))
	for i := range instruments {
		views = append(views, NewView(&instruments[i]))
	}
	return &ListResult{Instruments: views, Total: total, Page: f.Page.Page, Limit: f.Page.Limit}, nil
}

// Update changes instrument details. A capacity change never evicts active
// checkouts. Admin only.
func (s *Service) Update(ctx context.Context, actor model.Principal, id uuid.UUID, in UpdateInput) (*View, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, ledger.Validation("unknown instrument status %q", *in.Status)
	}

	inst, err := s.ledger.Modify(ctx, id, func(inst *model.Instrument) error {
		applyUpdate(inst, in)
		if in.Capacity != nil {
			return ledger.Resize(inst, *in.Capacity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	occ := ledger.Of(inst)
	if occ.Occupied > inst.Capacity {
		s.log.Warn("capacity reduced below current occupancy; existing checkouts kept",
			"instrument_id", id, "capacity", inst.Capacity, "occupied", occ.Occupied)
	}
	s.log.Info("instrument updated", "instrument_id", id, "admin_id", actor.UserID)
	return s.Get(ctx, id)
}

func applyUpdate(inst *model.Instrument, in UpdateInput) {
	if in.Name != nil {
		inst.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		inst.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		inst.Category = strings.TrimSpace(*in.Category)
	}
	if in.Location != nil {
		inst.Location = strings.TrimSpace(*in.Location)
	}
	if in.ImageURL != nil {
		inst.ImageURL = *in.ImageURL
	}
	if in.ManualGuide != nil {
		inst.ManualGuide = *in.ManualGuide
	}
	if in.Specifications != nil {
		specs := *in.Specifications
		if specs == nil {
			specs = model.Specifications{}
		}
		inst.Specifications = specs
	}
	if in.Status != nil {
		inst.Status = *in.Status
	}
}

// Remove deletes an instrument with no active checkouts. Admin only.
func (s *Service) Remove(ctx context.Context, actor model.Principal, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return ledger.ErrUnauthorized
	}
	if err := s.ledger.Remove(ctx, id); err != nil {
		return err
	}
	s.log.Info("instrument deleted", "instrument_id", id, "admin_id", actor.UserID)
	return nil
}
