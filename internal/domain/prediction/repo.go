package prediction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prediction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error)
	// ListByUIN returns the patient's predictions, newest first.
	ListByUIN(ctx context.Context, uin string, limit, offset int) ([]*Prediction, int, error)
	// Review moves a pending prediction to status. It returns
	// ErrInvalidState when the prediction is no longer pending.
	Review(ctx context.Context, id uuid.UUID, status Status, reviewer uuid.UUID, at time.Time) error
	SetFeedback(ctx context.Context, id uuid.UUID, feedback string) error
	CountByStatus(ctx context.Context, uin string) (Summary, error)
	// CountByStatusForUINs sums the counts of every listed patient.
	CountByStatusForUINs(ctx context.Context, uins []string) (Summary, error)
}
