// Package auth handles accounts, password login and bearer tokens.
package auth

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

var (
	ErrEmailTaken         = &ledger.Error{Kind: ledger.KindValidation, Code: "EMAIL_TAKEN", Message: "user already exists with this email"}
	ErrInvalidCredentials = &ledger.Error{Kind: ledger.KindUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrInactive           = &ledger.Error{Kind: ledger.KindUnauthorized, Code: "ACCOUNT_INACTIVE", Message: "account is deactivated"}
	ErrUserNotFound       = ledger.NotFound("USER_NOT_FOUND", "user not found")
	ErrSelfChange         = &ledger.Error{Kind: ledger.KindValidation, Code: "SELF_CHANGE", Message: "cannot change your own role or status"}
)

// RegisterInput is a self-service sign-up request.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginInput is a password login request.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is the result of a successful register or login.
type Session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// UserList is one page of users.
type UserList struct {
	Users []model.User `json:"users"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// Service implements account management.
type Service struct {
	store    store.Store
	tokens   *TokenService
	validate *validator.Validate
	log      *slog.Logger
}

// NewService creates an auth Service.
func NewService(s store.Store, tokens *TokenService, log *slog.Logger) *Service {
	return &Service{
		store:    s,
		tokens:   tokens,
		validate: validator.New(),
		log:      log,
	}
}

// Tokens returns the token service used for issuing sessions.
func (s *Service) Tokens() *TokenService {
	return s.tokens
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

func (s *Service) issue(u *model.User) (*Session, error) {
	token, err := s.tokens.Issue(model.Principal{UserID: u.ID, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Register creates a regular user account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	u, err := s.createUser(ctx, in.Name, in.Email, in.Password, model.RoleUser)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "email", u.Email)
	return s.issue(u)
}

func (s *Service) createUser(ctx context.Context, name, email, password string, role model.Role) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.store.UserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Login verifies a password and issues a token. Deactivated accounts are refused.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	u, err := s.store.UserByEmail(ctx, strings.TrimSpace(in.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInactive
	}
	return s.issue(u)
}

// Authenticate resolves a bearer token to a principal using the stored role,
// so role changes and deactivation take effect before the token expires.
func (s *Service) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	p, err := s.tokens.Validate(token)
	if err != nil {
		return model.Principal{}, err
	}
	u, err := s.store.UserByID(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Principal{}, ErrInvalidToken
	}
	if err != nil {
		return model.Principal{}, err
	}
	if !u.IsActive {
		return model.Principal{}, ErrInactive
	}
	return model.Principal{UserID: u.ID, Role: u.Role}, nil
}

// User returns a user by ID.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.store.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// List returns a page of users. Admin only.
func (s *Service) List(ctx context.Context, actor model.Principal, f store.UserFilter) (*UserList, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	users, total, err := s.store.ListUsers(ctx, f)
	if err != nil {
		return nil, err
	}
	page := f.Page.Normalize()
	return &UserList{Users: users, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// SetActive enables or disables an account. Admin only.
func (s *Service) SetActive(ctx context.Context, actor model.Principal, id uuid.UUID, active bool) (*model.User, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	if id == actor.UserID {
		return nil, ErrSelfChange
	}
	u, err := s.update(ctx, id, map[string]any{"is_active": active})
	if err != nil {
		return nil, err
	}
	s.log.Info("user status changed", "user_id", id, "active", active, "admin_id", actor.UserID)
	return u, nil
}

// SetRole changes the role of an account. Admins cannot change their own role.
func (s *Service) SetRole(ctx context.Context, actor model.Principal, id uuid.UUID, role model.Role) (*model.User, error) {
	if !actor.IsAdmin() {
		return nil, ledger.ErrUnauthorized
	}
	if !role.Valid() {
		return nil, ledger.Validation("unknown role %q", role)
	}
	if id == actor.UserID {
		return nil, ErrSelfChange
	}
	u, err := s.update(ctx, id, map[string]any{"role": role})
	if err != nil {
		return nil, err
	}
	s.log.Info("user role changed", "user_id", id, "role", role, "admin_id", actor.UserID)
	return u, nil
}

func (s *Service) update(ctx context.Context, id uuid.UUID, fields map[string]any) (*model.User, error) {
	u, err := s.store.UpdateUser(ctx, id, fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// EnsureAdmin creates an administrator account, or promotes and reactivates
// the existing account with the same email.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (*model.User, error) {
	u, err := s.store.UserByEmail(ctx, email)
	switch {
	case err == nil:
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		return s.store.UpdateUser(ctx, u.ID, map[string]any{
			"role":          model.RoleAdmin,
			"is_active":     true,
			"password_hash": hash,
		})
	case errors.Is(err, store.ErrNotFound):
		if err := s.check(RegisterInput{Name: name, Email: email, Password: password}); err != nil {
			return nil, err
		}
		return s.createUser(ctx, name, email, password, model.RoleAdmin)
	default:
		return nil, err
	}
}
