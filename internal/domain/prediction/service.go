package prediction

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/notification"
)

// Identity resolves the users a prediction belongs to.
type Identity interface {
	FindUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	FindByUIN(ctx context.Context, uin string) (*identity.User, error)
	Patients(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*identity.User, int, error)
}

// dashboardPageSize is how many assigned patients Dashboard reads per page.
const dashboardPageSize = 100

type Notifier interface {
	NotifyTemplate(ctx context.Context, to, templateID string, data map[string]string)
}

type Service struct {
	repo     Repository
	users    Identity
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, users Identity, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		notifier: notifier,
		logger:   logger.With().Str("component", "prediction").Logger(),
		now:      time.Now,
	}
}

// Save stores a pending prediction for the calling patient. An empty UIN
// means the patient's own.
func (s *Service) Save(ctx context.Context, actorID uuid.UUID, in SaveInput) (*Prediction, error) {
	patient, err := s.users.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !patient.IsPatient() {
		return nil, ErrForbidden
	}
	uin := strings.TrimSpace(in.UIN)
	if uin == "" {
		uin = patient.UIN
	}
	if uin != patient.UIN {
		return nil, ErrForbidden
	}
	if in.Score == nil {
		return nil, fmt.Errorf("%w: score is required", ErrValidation)
	}
	if math.IsNaN(*in.Score) || math.IsInf(*in.Score, 0) {
		return nil, fmt.Errorf("%w: score must be a finite number", ErrValidation)
	}

	p := &Prediction{
		UIN:           uin,
		Score:         *in.Score,
		MedicalInputs: in.MedicalInputs,
		Status:        StatusPending,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("prediction_id", p.ID.String()).
		Str("uin", p.UIN).
		Float64("score", p.Score).
		Msg("prediction saved")

	if patient.AssignedDoctorID != nil {
		s.notifyUser(ctx, *patient.AssignedDoctorID, notification.TplPredictionSubmitted, map[string]string{
			"patient_name": patient.FullName(),
			"uin":          p.UIN,
			"score":        strconv.FormatFloat(p.Score, 'f', 2, 64),
		})
	}
	return p, nil
}

// History lists a patient's predictions newest first. The patient, their
// assigned doctor and admins may read it.
func (s *Service) History(ctx context.Context, actorID uuid.UUID, uin string, limit, offset int) ([]*Prediction, int, error) {
	patient, err := s.authorizeRead(ctx, actorID, uin)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByUIN(ctx, patient.UIN, limit, offset)
}

// Summary counts a patient's predictions by status under the same access
// rule as History.
func (s *Service) Summary(ctx context.Context, actorID uuid.UUID, uin string) (Summary, error) {
	patient, err := s.authorizeRead(ctx, actorID, uin)
	if err != nil {
		return Summary{}, err
	}
	return s.repo.CountByStatus(ctx, patient.UIN)
}

// Dashboard counts the doctor's assigned patients and the pending and
// approved predictions across all of them.
func (s *Service) Dashboard(ctx context.Context, actorID uuid.UUID) (Dashboard, error) {
	doctor, err := s.users.FindUser(ctx, actorID)
	if err != nil {
		return Dashboard{}, err
	}
	if !doctor.IsDoctor() {
		return Dashboard{}, ErrForbidden
	}

	var uins []string
	for offset := 0; ; offset += dashboardPageSize {
		page, total, err := s.users.Patients(ctx, actorID, dashboardPageSize, offset)
		if err != nil {
			return Dashboard{}, err
		}
		for _, p := range page {
			uins = append(uins, p.UIN)
		}
		if len(page) < dashboardPageSize || offset+len(page) >= total {
			break
		}
	}

	d := Dashboard{PatientCount: len(uins)}
	if len(uins) == 0 {
		return d, nil
	}
	sum, err := s.repo.CountByStatusForUINs(ctx, uins)
	if err != nil {
		return Dashboard{}, err
	}
	d.PendingPredictions, d.ApprovedPredictions = sum.Pending, sum.Approved
	return d, nil
}

func (s *Service) Approve(ctx context.Context, actorID, id uuid.UUID) (*Prediction, error) {
	return s.review(ctx, actorID, id, StatusApproved)
}

func (s *Service) Cancel(ctx context.Context, actorID, id uuid.UUID) (*Prediction, error) {
	return s.review(ctx, actorID, id, StatusCanceled)
}

func (s *Service) review(ctx context.Context, actorID, id uuid.UUID, status Status) (*Prediction, error) {
	p, patient, err := s.loadForDoctor(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, ErrInvalidState
	}

	at := s.now().UTC()
	if err := s.repo.Review(ctx, p.ID, status, actorID, at); err != nil {
		return nil, err
	}
	p.Status = status
	p.ReviewedBy = &actorID
	p.ReviewedAt = &at

	s.logger.Info().
		Str("prediction_id", p.ID.String()).
		Str("status", string(status)).
		Str("doctor_id", actorID.String()).
		Msg("prediction reviewed")

	tpl := notification.TplPredictionCanceled
	if status == StatusApproved {
		tpl = notification.TplPredictionApproved
	}
	if doctor, err := s.users.FindUser(ctx, actorID); err == nil {
		s.notify(ctx, patient, tpl, map[string]string{
			"doctor_name": doctor.FullName(),
			"created_at":  p.CreatedAt.Format("Jan 2, 2006"),
		})
	}
	return p, nil
}

// AddFeedback replaces the doctor's feedback on a prediction.
func (s *Service) AddFeedback(ctx context.Context, actorID, id uuid.UUID, text string) (*Prediction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: feedback is required", ErrValidation)
	}
	if len(text) > MaxFeedbackLen {
		return nil, fmt.Errorf("%w: feedback exceeds %d bytes", ErrValidation, MaxFeedbackLen)
	}

	p, _, err := s.loadForDoctor(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetFeedback(ctx, p.ID, text); err != nil {
		return nil, err
	}
	p.Feedback = text
	return p, nil
}

// loadForDoctor returns the prediction and its patient when actorID is the
// patient's assigned doctor.
func (s *Service) loadForDoctor(ctx context.Context, actorID, id uuid.UUID) (*Prediction, *identity.User, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	patient, err := s.users.FindByUIN(ctx, p.UIN)
	if err != nil {
		return nil, nil, err
	}
	if patient.AssignedDoctorID == nil || *patient.AssignedDoctorID != actorID {
		return nil, nil, ErrForbidden
	}
	return p, patient, nil
}

func (s *Service) authorizeRead(ctx context.Context, actorID uuid.UUID, uin string) (*identity.User, error) {
	actor, err := s.users.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	uin = strings.TrimSpace(uin)
	if uin == "" {
		if !actor.IsPatient() {
			return nil, fmt.Errorf("%w: uin is required", ErrValidation)
		}
		return actor, nil
	}

	patient, err := s.users.FindByUIN(ctx, uin)
	if err != nil {
		return nil, err
	}
	if !patient.IsPatient() {
		return nil, identity.ErrUserNotFound
	}
	switch {
	case actor.IsAdmin(), actor.ID == patient.ID:
		return patient, nil
	case patient.AssignedDoctorID != nil && *patient.AssignedDoctorID == actor.ID:
		return patient, nil
	default:
		return nil, ErrForbidden
	}
}

func (s *Service) notifyUser(ctx context.Context, userID uuid.UUID, tpl string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	u, err := s.users.FindUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("notification recipient lookup failed")
		return
	}
	s.notify(ctx, u, tpl, data)
}

func (s *Service) notify(ctx context.Context, recipient *identity.User, tpl string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	data["recipient_name"] = recipient.FullName()
	s.notifier.NotifyTemplate(ctx, recipient.Email, tpl, data)
}
