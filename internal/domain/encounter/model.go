package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Visit records a consultation that actually happened: the clinical notes
// behind a completed appointment or a walk-in.
type Visit struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"` // nil for walk-ins
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	VisitDate      time.Time  `json:"visit_date"`
	VisitType      string     `json:"visit_type"`
	ChiefComplaint string     `json:"chief_complaint"`
	Diagnosis      string     `json:"diagnosis,omitempty"`
	TreatmentPlan  string     `json:"treatment_plan,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	FollowUpDate   *time.Time `json:"follow_up_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
