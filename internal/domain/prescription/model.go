package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is a doctor's medication order for a patient, usually tied
// to a visit. Prescriptions are never deleted; superseded ones are
// deactivated.
type Prescription struct {
	ID           uuid.UUID    `json:"id"`
	VisitID      *uuid.UUID   `json:"visit_id,omitempty"`
	PatientID    uuid.UUID    `json:"patient_id"`
	DoctorID     uuid.UUID    `json:"doctor_id"`
	Medications  []Medication `json:"medications"`
	Instructions string       `json:"instructions,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Medication is one drug line on a prescription.
type Medication struct {
	ID             uuid.UUID `json:"id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	Name           string    `json:"name"`
	Dosage         string    `json:"dosage"`    // e.g. "500mg"
	Frequency      string    `json:"frequency"` // e.g. "twice daily"
	DurationDays   int       `json:"duration_days"`
	Instructions   string    `json:"instructions,omitempty"` // e.g. "after food"
}
