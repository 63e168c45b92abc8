package patient

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

var validGenders = map[string]bool{
	"male":   true,
	"female": true,
	"other":  true,
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Service implements patient registration and record keeping.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)

	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	if !phonePattern.MatchString(p.Phone) {
		return fmt.Errorf("phone must be 7-15 digits with optional + prefix")
	}
	if p.Gender != "" && !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(time.Now()) {
		return fmt.Errorf("date_of_birth cannot be in the future")
	}
	return nil
}

// Register creates a new patient record and assigns a patient number.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Patient, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	return s.repo.GetByPhone(ctx, phone)
}

// Update applies edits to an existing record. The patient number and the
// active flag are not editable through this path.
func (s *Service) Update(ctx context.Context, id uuid.UUID, updated *Patient) (*Patient, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(updated); err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.PatientNumber = existing.PatientNumber
	updated.Active = existing.Active
	updated.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Deactivate soft-deletes the record; history stays intact.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.Reactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Params) ([]*Patient, int, error) {
	return s.repo.List(ctx, f, page)
}
