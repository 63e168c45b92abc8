package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Filter narrows List results.
type Filter struct {
	Role            string
	IncludeInactive bool
}

// Repository is the persistence boundary for user accounts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	RecordLogin(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*User, int, error)
}
