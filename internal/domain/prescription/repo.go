package prescription

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Filter narrows List results.
type Filter struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	IncludeInactive bool
}

// Repository is the persistence boundary for prescriptions.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Prescription, int, error)
}
