package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a person registered with the clinic. Records are never hard
// deleted; deactivation flips Active and the row stays referenced by
// historical visits, bills and prescriptions.
type Patient struct {
	ID               uuid.UUID  `json:"id"`
	PatientNumber    string     `json:"patient_number"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Phone            string     `json:"phone"`
	Email            string     `json:"email,omitempty"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Gender           string     `json:"gender,omitempty"`
	BloodGroup       string     `json:"blood_group,omitempty"`
	Address          string     `json:"address,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
	EmergencyPhone   string     `json:"emergency_phone,omitempty"`
	MedicalHistory   string     `json:"medical_history,omitempty"`
	Allergies        string     `json:"allergies,omitempty"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FullName returns the display name used in notifications and bills.
func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Age returns the patient's age in whole years, or -1 when the date of
// birth is unknown.
func (p *Patient) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	years := now.Year() - p.DateOfBirth.Year()
	anniversary := p.DateOfBirth.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
