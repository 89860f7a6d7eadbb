package connection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists connection requests. Implementations join the unit
// of work carried in ctx, if any.
type Repository interface {
	// Create fails with ErrDuplicateRequest when a pending request in the
	// same direction already exists for the pair.
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// HasPending reports whether the pair has a request pending on track.
	HasPending(ctx context.Context, doctorID, patientID uuid.UUID, track Track) (bool, error)
	// UpdateStatus moves a request from one status to another only if it
	// is still in from. It returns ErrInvalidState otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
	// RejectOtherPending rejects every doctor-initiated request still
	// pending for the patient, except keepID, and returns how many moved.
	RejectOtherPending(ctx context.Context, patientID, keepID uuid.UUID, at time.Time) (int, error)
	// LatestAccepted returns the patient's most recently accepted request.
	LatestAccepted(ctx context.Context, patientID uuid.UUID) (*Request, error)
	List(ctx context.Context, f Filter) ([]*Request, int, error)
}
