package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Search          string // matches name, phone or patient number
	Gender          string
	IncludeInactive bool
}

// Repository is the persistence boundary for patients.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNumber(ctx context.Context, number string) (*Patient, error)
	GetByPhone(ctx context.Context, phone string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	Reactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Patient, int, error)
}
