package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/internal/domain/scheduling"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// AppointmentSource looks up and completes appointments when a visit is
// recorded against one.
type AppointmentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// Service implements visit documentation.
type Service struct {
	repo         Repository
	appointments AppointmentSource
}

func NewService(repo Repository, appointments AppointmentSource) *Service {
	return &Service{repo: repo, appointments: appointments}
}

func (s *Service) validate(v *Visit) error {
	if v.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if v.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if v.ChiefComplaint == "" {
		return fmt.Errorf("chief_complaint is required")
	}
	if v.VisitType == "" {
		v.VisitType = scheduling.VisitClinic
	}
	return nil
}

// Create records a walk-in visit with no appointment behind it.
func (s *Service) Create(ctx context.Context, v *Visit) error {
	if err := s.validate(v); err != nil {
		return err
	}
	return s.repo.Create(ctx, v)
}

// CreateFromAppointment documents a visit for a confirmed appointment and
// completes it. An appointment produces at most one visit; a second call
// returns the existing record.
func (s *Service) CreateFromAppointment(ctx context.Context, appointmentID uuid.UUID, v *Visit) (*Visit, error) {
	if existing, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
		return existing, nil
	}

	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointment not found")
	}

	v.AppointmentID = &appt.ID
	v.PatientID = appt.PatientID
	v.DoctorID = appt.DoctorID
	v.VisitType = appt.VisitType
	if v.VisitDate.IsZero() {
		v.VisitDate = time.Now().UTC()
	}
	if err := s.validate(v); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	if _, err := s.appointments.Complete(ctx, appointmentID); err != nil {
		return nil, fmt.Errorf("visit recorded but appointment not completed: %w", err)
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

// Update edits the clinical notes. The patient, doctor and appointment
// links are immutable.
func (s *Service) Update(ctx context.Context, id uuid.UUID, updated *Visit) (*Visit, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.ChiefComplaint = updated.ChiefComplaint
	existing.Diagnosis = updated.Diagnosis
	existing.TreatmentPlan = updated.TreatmentPlan
	existing.Notes = updated.Notes
	existing.FollowUpDate = updated.FollowUpDate
	if existing.ChiefComplaint == "" {
		return nil, fmt.Errorf("chief_complaint is required")
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Params) ([]*Visit, int, error) {
	return s.repo.List(ctx, f, page)
}

// PatientHistory lists a patient's visits, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*Visit, int, error) {
	return s.repo.List(ctx, Filter{PatientID: patientID}, page)
}
