package prescription

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Service implements prescription management.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create issues a prescription. Every medication line needs a name and a
// dosage; the rest is advisory.
func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if p.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if len(p.Medications) == 0 {
		return fmt.Errorf("a prescription needs at least one medication")
	}
	for i, m := range p.Medications {
		if m.Name == "" {
			return fmt.Errorf("medication %d: name is required", i+1)
		}
		if m.Dosage == "" {
			return fmt.Errorf("medication %d: dosage is required", i+1)
		}
		if m.DurationDays < 0 {
			return fmt.Errorf("medication %d: duration_days cannot be negative", i+1)
		}
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

// Deactivate marks a prescription superseded. The record stays for the
// patient's history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Params) ([]*Prescription, int, error) {
	return s.repo.List(ctx, f, page)
}

// PatientPrescriptions lists a patient's prescriptions, newest first.
func (s *Service) PatientPrescriptions(ctx context.Context, patientID uuid.UUID, includeInactive bool, page pagination.Params) ([]*Prescription, int, error) {
	return s.repo.List(ctx, Filter{PatientID: patientID, IncludeInactive: includeInactive}, page)
}
