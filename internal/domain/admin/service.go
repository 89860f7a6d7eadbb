package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/internal/platform/notification"
)

// Users is the slice of the user store the admin console needs.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	SetDoctorApproved(ctx context.Context, doctorID uuid.UUID, approved bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f identity.ListFilter, limit, offset int) ([]*identity.User, int, error)
}

type Notifier interface {
	NotifyTemplate(ctx context.Context, to, templateID string, data map[string]string)
}

// Service implements account moderation. Role checks are done by the
// routes; the service only guards the account state.
type Service struct {
	users    Users
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(users Users, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		notifier: notifier,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// -- Doctors --

func (s *Service) PendingDoctors(ctx context.Context, limit, offset int) ([]*identity.User, int, error) {
	approved := false
	return s.users.List(ctx, identity.ListFilter{Role: auth.RoleDoctor, Approved: &approved}, limit, offset)
}

func (s *Service) ApproveDoctor(ctx context.Context, actorID, doctorID uuid.UUID) (*identity.User, error) {
	doc, err := s.pendingDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetDoctorApproved(ctx, doctorID, true); err != nil {
		return nil, err
	}
	doc.DoctorApproved = true
	s.logger.Info().Str("admin_id", actorID.String()).Str("doctor_id", doctorID.String()).Msg("doctor approved")
	s.notify(ctx, doc, notification.TplDoctorApproved)
	return doc, nil
}

// RejectDoctor deletes a doctor account that has not been approved yet.
func (s *Service) RejectDoctor(ctx context.Context, actorID, doctorID uuid.UUID) error {
	doc, err := s.pendingDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, doctorID); err != nil {
		return err
	}
	s.logger.Info().Str("admin_id", actorID.String()).Str("doctor_id", doctorID.String()).Msg("doctor rejected")
	s.notify(ctx, doc, notification.TplDoctorRejected)
	return nil
}

func (s *Service) pendingDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsDoctor() {
		return nil, identity.ErrNotDoctor
	}
	if u.DoctorApproved {
		return nil, ErrAlreadyApproved
	}
	return u, nil
}

// -- Users --

// ListUsers lists accounts, optionally restricted to one role.
func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*identity.User, int, error) {
	switch role {
	case "", auth.RoleDoctor, auth.RolePatient, auth.RoleAdmin:
	default:
		return nil, 0, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	return s.users.List(ctx, identity.ListFilter{Role: role}, limit, offset)
}

// DeleteUser removes any account except the caller's own. Requests,
// predictions and messages go with it; patients assigned to a deleted
// doctor become unassigned.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID uuid.UUID) error {
	if actorID == userID {
		return ErrSelfDelete
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info().Str("admin_id", actorID.String()).Str("user_id", userID.String()).Msg("user deleted")
	return nil
}

func (s *Service) notify(ctx context.Context, u *identity.User, templateID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyTemplate(ctx, u.Email, templateID, map[string]string{
		"recipient_name": u.FullName(),
	})
}
