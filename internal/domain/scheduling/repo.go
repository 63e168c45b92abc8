package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Filter narrows List results.
type Filter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    string
	VisitType string
	From      time.Time
	To        time.Time
}

// StatusCount is one row of the appointment statistics breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Repository is the persistence boundary for appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Appointment, int, error)

	// FindOverlapping returns the blocking appointment whose interval
	// overlaps [start, end) for the doctor, or ErrNotFound when the slot is
	// free. excludeID skips one appointment, for reschedules.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error)

	// LockDoctorDay serializes bookings for one doctor and calendar day.
	// Must be called inside a transaction; the lock releases on commit or
	// rollback.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) error

	// ListByDoctorDay returns the doctor's blocking appointments within the
	// calendar day, ordered by start time.
	ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error)

	// ListDueReminders returns confirmed or pending appointments starting
	// within the window that have not been reminded yet.
	ListDueReminders(ctx context.Context, until time.Time) ([]*Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error

	CountByStatus(ctx context.Context, from, to time.Time) ([]StatusCount, error)
}
