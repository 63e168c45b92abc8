package identity

import (
	"time"

	"github.com/google/uuid"
)

// Roles understood by the API. super_admin passes every role check.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleDoctor     = "doctor"
	RoleStaff      = "staff"
	RolePatient    = "patient"
)

// User is a staff member, doctor or portal account.
type User struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	FullName       string     `json:"full_name"`
	Phone          string     `json:"phone,omitempty"`
	Role           string     `json:"role"`
	Specialization string     `json:"specialization,omitempty"` // doctors only
	Active         bool       `json:"active"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsDoctor reports whether the account can be booked for appointments.
func (u *User) IsDoctor() bool {
	return u.Role == RoleDoctor
}
