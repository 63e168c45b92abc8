package encounter

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
	From      time.Time
	To        time.Time
}

// Repository is the persistence boundary for visits.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Visit, int, error)
}
