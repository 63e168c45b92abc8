package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/internal/platform/auth"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// ErrInvalidCredentials is returned for a bad email/password pair or a
// deactivated account. Callers must not reveal which one it was.
var ErrInvalidCredentials = errors.New("invalid email or password")

var validRoles = map[string]bool{
	RoleSuperAdmin: true,
	RoleAdmin:      true,
	RoleDoctor:     true,
	RoleStaff:      true,
	RolePatient:    true,
}

// Service implements account management and credential checks.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) validate(u *User) error {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.FullName = strings.TrimSpace(u.FullName)

	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("a valid email is required")
	}
	if u.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if u.Role == "" {
		u.Role = RoleStaff
	}
	if !validRoles[u.Role] {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	return nil
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	if err := s.validate(u); err != nil {
		return err
	}
	if _, err := s.repo.GetByEmail(ctx, u.Email); err == nil {
		return fmt.Errorf("email already registered")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.repo.Create(ctx, u)
}

// Authenticate checks the credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if err := s.repo.RecordLogin(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Update edits profile fields. Role changes go through here too; the
// handler layer restricts who may call it.
func (s *Service) Update(ctx context.Context, id uuid.UUID, updated *User) (*User, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(updated); err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.PasswordHash = existing.PasswordHash
	updated.Active = existing.Active
	updated.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Params) ([]*User, int, error) {
	return s.repo.List(ctx, f, page)
}

// ListDoctors returns active doctor accounts for booking UIs.
func (s *Service) ListDoctors(ctx context.Context, page pagination.Params) ([]*User, int, error) {
	return s.repo.List(ctx, Filter{Role: RoleDoctor}, page)
}
