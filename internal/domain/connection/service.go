package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/internal/platform/metrics"
	"github.com/cardiocare/cardiocare/internal/platform/notification"
)

// Transactor runs fn as one unit of work. Repository calls made with the
// context passed to fn join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Identity is the slice of the identity store the state machine needs.
type Identity interface {
	FindUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	SetAssignedDoctor(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error
}

// Notifier delivers templated email without blocking or failing the caller.
type Notifier interface {
	NotifyTemplate(ctx context.Context, to, templateID string, data map[string]string)
}

type Service struct {
	repo     Repository
	users    Identity
	tx       Transactor
	notifier Notifier
	metrics  *metrics.ConnectionMetrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, users Identity, tx Transactor, notifier Notifier, m *metrics.ConnectionMetrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		tx:       tx,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "connection").Logger(),
		now:      time.Now,
	}
}

// Initiate opens a request from actor to targetID. A doctor targets a
// patient and a patient targets a doctor; the actor's role picks the track.
func (s *Service) Initiate(ctx context.Context, actor Actor, targetID uuid.UUID) (*Request, error) {
	const op = "initiate"

	sender, err := s.users.FindUser(ctx, actor.ID)
	if err != nil {
		return nil, s.fail(op, err)
	}

	var track Track
	switch sender.Role {
	case auth.RoleDoctor:
		track = DoctorInitiated
	case auth.RolePatient:
		track = PatientInitiated
	default:
		return nil, s.fail(op, ErrForbidden)
	}

	target, err := s.users.FindUser(ctx, targetID)
	if err != nil {
		return nil, s.fail(op, err)
	}

	req := &Request{Status: Initial(track)}
	var doctor *identity.User
	if track == DoctorInitiated {
		if !target.IsPatient() {
			return nil, s.fail(op, ErrInvalidTarget)
		}
		doctor, req.DoctorID, req.PatientID = sender, sender.ID, target.ID
	} else {
		if !target.IsDoctor() {
			return nil, s.fail(op, ErrInvalidTarget)
		}
		doctor, req.DoctorID, req.PatientID = target, target.ID, sender.ID
	}
	if !doctor.DoctorApproved {
		return nil, s.fail(op, ErrDoctorNotApproved)
	}

	pending, err := s.repo.HasPending(ctx, req.DoctorID, req.PatientID, track)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if pending {
		return nil, s.fail(op, ErrDuplicateRequest)
	}

	// The partial unique index still catches a concurrent create.
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, s.fail(op, err)
	}

	s.metrics.ObserveTransition(op, req.Status.String())
	s.logger.Info().
		Str("request_id", req.ID.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("status", req.Status.String()).
		Msg("connection requested")

	s.notify(ctx, target, notification.TplConnectionRequested, map[string]string{
		"sender_name": sender.FullName(),
		"sender_role": sender.Role,
	})
	return req, nil
}

// Respond accepts or rejects a pending request. Only the party the track
// waits on may respond. Accepting assigns the doctor to the patient and,
// on the doctor-initiated track, rejects the patient's other pending
// doctor-initiated requests in the same unit of work.
func (s *Service) Respond(ctx context.Context, actor Actor, requestID uuid.UUID, accept bool) (*Request, error) {
	const op = "respond"

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	party, ok := req.PartyOf(actor.ID)
	if !ok || party != req.Status.Track.Responder() {
		return nil, s.fail(op, ErrForbidden)
	}
	next, err := req.Status.Respond(accept)
	if err != nil {
		return nil, s.fail(op, err)
	}

	at := s.now().UTC()
	superseded := 0
	if accept {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next, at); err != nil {
				return err
			}
			if err := s.users.SetAssignedDoctor(ctx, req.PatientID, &req.DoctorID); err != nil {
				return err
			}
			if req.Status.Track == DoctorInitiated {
				n, err := s.repo.RejectOtherPending(ctx, req.PatientID, req.ID, at)
				if err != nil {
					return err
				}
				superseded = n
			}
			return nil
		})
	} else {
		err = s.repo.UpdateStatus(ctx, req.ID, req.Status, next, at)
	}
	if err != nil {
		return nil, s.fail(op, classify(err))
	}

	req.Status = next
	req.RespondedAt = &at

	s.metrics.ObserveTransition(op, next.String())
	s.metrics.ObserveSuperseded(superseded)
	s.logger.Info().
		Str("request_id", req.ID.String()).
		Str("status", next.String()).
		Int("superseded", superseded).
		Msg("connection request answered")

	tpl := notification.TplConnectionRejected
	if accept {
		tpl = notification.TplConnectionAccepted
	}
	s.notifyUser(ctx, req.UserFor(req.Initiator()), actor.ID, tpl, "responder_name")
	return req, nil
}

// Disconnect ends an accepted connection from either side and clears the
// patient's assigned doctor.
func (s *Service) Disconnect(ctx context.Context, actor Actor, requestID uuid.UUID) (*Request, error) {
	const op = "disconnect"

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	party, ok := req.PartyOf(actor.ID)
	if !ok {
		return nil, s.fail(op, ErrForbidden)
	}
	next, err := req.Status.Disconnect(party)
	if err != nil {
		return nil, s.fail(op, err)
	}

	at := s.now().UTC()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next, at); err != nil {
			return err
		}
		return s.users.SetAssignedDoctor(ctx, req.PatientID, nil)
	})
	if err != nil {
		return nil, s.fail(op, classify(err))
	}

	req.Status = next
	req.RespondedAt = &at

	s.metrics.ObserveTransition(op, next.String())
	s.logger.Info().
		Str("request_id", req.ID.String()).
		Str("status", next.String()).
		Str("by", party.String()).
		Msg("connection ended")

	s.notifyUser(ctx, req.Other(actor.ID), actor.ID, notification.TplConnectionEnded, "actor_name")
	return req, nil
}

// DisconnectAssigned ends the patient's current connection, found as their
// most recently accepted request.
func (s *Service) DisconnectAssigned(ctx context.Context, actor Actor) (*Request, error) {
	if actor.Role != auth.RolePatient {
		return nil, s.fail("disconnect", ErrForbidden)
	}
	req, err := s.repo.LatestAccepted(ctx, actor.ID)
	if err != nil {
		return nil, s.fail("disconnect", err)
	}
	return s.Disconnect(ctx, actor, req.ID)
}

// Query lists the actor's requests for view, newest first, each with a
// summary of the other party.
func (s *Service) Query(ctx context.Context, actor Actor, view QueryView, limit, offset int) ([]View, int, error) {
	var party Party
	switch actor.Role {
	case auth.RoleDoctor:
		party = PartyDoctor
	case auth.RolePatient:
		party = PartyPatient
	default:
		return nil, 0, ErrForbidden
	}

	f := Filter{Party: party, UserID: actor.ID, Limit: limit, Offset: offset}
	switch view {
	case ViewIncoming:
		f.Statuses = []Status{Initial(initiatingTrack(opposite(party)))}
	case ViewSent:
		f.Statuses = []Status{Initial(initiatingTrack(party))}
	case ViewAccepted:
		f.Statuses = AcceptedStatuses
	case ViewHistory:
	default:
		return nil, 0, ErrInvalidView
	}

	reqs, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, s.fail("query", err)
	}

	seen := make(map[uuid.UUID]*identity.Summary)
	views := make([]View, 0, len(reqs))
	for _, req := range reqs {
		v := req.View()
		otherID := req.Other(actor.ID)
		summary, ok := seen[otherID]
		if !ok {
			if u, err := s.users.FindUser(ctx, otherID); err == nil {
				sum := u.Summary()
				summary = &sum
			} else if !errors.Is(err, identity.ErrUserNotFound) {
				return nil, 0, err
			}
			seen[otherID] = summary
		}
		v.Counterparty = summary
		views = append(views, v)
	}
	return views, total, nil
}

func initiatingTrack(p Party) Track {
	if p == PartyDoctor {
		return DoctorInitiated
	}
	return PatientInitiated
}

func opposite(p Party) Party {
	if p == PartyDoctor {
		return PartyPatient
	}
	return PartyDoctor
}

// classify keeps domain outcomes from a unit of work and reports any other
// failure as transient. Nothing was committed in either case.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, identity.ErrNotDoctor):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
}

func (s *Service) fail(op string, err error) error {
	s.metrics.ObserveFailure(op, reason(err))
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDoctorNotApproved):
		return "doctor_not_approved"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	default:
		return "error"
	}
}

// notifyUser emails recipientID on behalf of actorID. Lookup failures are
// logged; the transition has already happened.
func (s *Service) notifyUser(ctx context.Context, recipientID, actorID uuid.UUID, tpl, actorKey string) {
	if s.notifier == nil {
		return
	}
	recipient, err := s.users.FindUser(ctx, recipientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", recipientID.String()).Msg("notification recipient lookup failed")
		return
	}
	actor, err := s.users.FindUser(ctx, actorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", actorID.String()).Msg("notification actor lookup failed")
		return
	}
	s.notify(ctx, recipient, tpl, map[string]string{actorKey: actor.FullName()})
}

func (s *Service) notify(ctx context.Context, recipient *identity.User, tpl string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	data["recipient_name"] = recipient.FullName()
	s.notifier.NotifyTemplate(ctx, recipient.Email, tpl, data)
}
