package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Appointment statuses. pending and confirmed hold the slot; the rest
// release it.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Visit types and their booking behavior. Online visits get meeting
// credentials at booking time.
const (
	VisitClinic    = "clinic"
	VisitHome      = "home"
	VisitOnline    = "online"
	VisitEmergency = "emergency"
)

// Appointment reserves a doctor for the half-open interval
// [StartTime, StartTime+Duration). Two appointments for the same doctor
// conflict when their intervals overlap; touching boundaries do not.
type Appointment struct {
	ID              uuid.UUID       `json:"id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	StartTime       time.Time       `json:"start_time"`
	DurationMinutes int             `json:"duration_minutes"`
	VisitType       string          `json:"visit_type"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Fee             decimal.Decimal `json:"fee"`
	ReminderSent    bool            `json:"reminder_sent"`
	MeetingID       string          `json:"meeting_id,omitempty"`
	MeetingURL      string          `json:"meeting_url,omitempty"`
	MeetingPassword string          `json:"meeting_password,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EndTime is the exclusive end of the reserved interval.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Blocks reports whether the appointment holds its slot against new
// bookings.
func (a *Appointment) Blocks() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// ConflictError reports a booking collision and identifies the appointment
// already holding the slot.
type ConflictError struct {
	ConflictingID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("time slot conflicts with appointment %s", e.ConflictingID)
}

// Slot is one bookable interval in a doctor's day.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
