package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/platform/auth"
)

const (
	minPasswordLen = 8
	uinLength      = 12
	uinAttempts    = 5
)

type Service struct {
	users   Repository
	tokens  *auth.TokenIssuer
	revoked auth.RevocationStore
	logger  zerolog.Logger
	newUIN  func() (string, error)
}

func NewService(users Repository, tokens *auth.TokenIssuer, revoked auth.RevocationStore, logger zerolog.Logger) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		revoked: revoked,
		logger:  logger.With().Str("component", "identity").Logger(),
		newUIN:  generateUIN,
	}
}

// -- Accounts --

// Register creates a doctor or patient account. Doctors start unapproved.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.Role != auth.RoleDoctor && in.Role != auth.RolePatient {
		return nil, fmt.Errorf("%w: role must be doctor or patient", ErrValidation)
	}
	u, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user registered")
	return u, nil
}

// CreateAdmin provisions an admin account. It is only reachable from the CLI.
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (*User, error) {
	in.Role = auth.RoleAdmin
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in RegisterInput) (*User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	if in.UIN != "" && !validUIN(in.UIN) {
		return nil, fmt.Errorf("%w: uin must be %d digits", ErrValidation, uinLength)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         in.Role,
	}

	if in.UIN != "" {
		u.UIN = in.UIN
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}

	for attempt := 0; attempt < uinAttempts; attempt++ {
		if u.UIN, err = s.newUIN(); err != nil {
			return nil, fmt.Errorf("generate uin: %w", err)
		}
		u.ID = uuid.Nil
		err = s.users.Create(ctx, u)
		if !errors.Is(err, ErrUINTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(u.ID, u.Role, u.UIN)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: u}, nil
}

// Logout revokes the token id until the token would have expired anyway.
func (s *Service) Logout(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if s.revoked == nil || tokenID == "" {
		return nil
	}
	if err := s.revoked.Revoke(ctx, tokenID, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *Service) Me(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile edits name and email. Role, approval and assignment are
// not editable here.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		if u.Email, err = normalizeEmail(*in.Email); err != nil {
			return nil, err
		}
	}
	if u.FirstName == "" || u.LastName == "" {
		return nil, fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// -- Used by the connection state machine --

func (s *Service) FindUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) FindByUIN(ctx context.Context, uin string) (*User, error) {
	if !validUIN(uin) {
		return nil, ErrUserNotFound
	}
	return s.users.GetByUIN(ctx, uin)
}

// SetAssignedDoctor sets or, with a nil doctorID, clears the patient's
// assigned doctor.
func (s *Service) SetAssignedDoctor(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error {
	if doctorID != nil {
		doctor, err := s.users.GetByID(ctx, *doctorID)
		if err != nil {
			return err
		}
		if !doctor.IsDoctor() {
			return ErrNotDoctor
		}
	}
	return s.users.SetAssignedDoctor(ctx, patientID, doctorID)
}

// -- Browsing --

func (s *Service) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (*User, error) {
	p, err := s.users.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !p.IsPatient() {
		return nil, ErrNotPatient
	}
	if p.AssignedDoctorID == nil {
		return nil, ErrNoAssignedDoctor
	}
	return s.users.GetByID(ctx, *p.AssignedDoctorID)
}

// Patients lists the patients currently assigned to doctorID.
func (s *Service) Patients(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, ListFilter{Role: auth.RolePatient, AssignedDoctorID: &doctorID}, limit, offset)
}

func (s *Service) UnassignedPatients(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, ListFilter{Role: auth.RolePatient, Unassigned: true}, limit, offset)
}

func (s *Service) ApprovedDoctors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	approved := true
	return s.users.List(ctx, ListFilter{Role: auth.RoleDoctor, Approved: &approved}, limit, offset)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return email, nil
}

func validUIN(uin string) bool {
	if len(uin) != uinLength {
		return false
	}
	for _, r := range uin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var uinSpace = big.NewInt(900_000_000_000)

// generateUIN returns a random 12-digit number with no leading zero.
func generateUIN() (string, error) {
	n, err := rand.Int(rand.Reader, uinSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+100_000_000_000), nil
}
