package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists users. Implementations join the unit of work carried
// in ctx, if any.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUIN(ctx context.Context, uin string) (*User, error)
	UpdateProfile(ctx context.Context, u *User) error
	SetAssignedDoctor(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error
	SetDoctorApproved(ctx context.Context, doctorID uuid.UUID, approved bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error)
}
