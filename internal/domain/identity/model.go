package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardiocare/cardiocare/internal/platform/auth"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrUINTaken           = errors.New("uin is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrValidation         = errors.New("validation failed")
	ErrNotDoctor          = errors.New("user is not a doctor")
	ErrNotPatient         = errors.New("user is not a patient")
	ErrNoAssignedDoctor   = errors.New("no doctor is assigned")
)

// User is the single account model shared by patients, doctors and admins.
// DoctorApproved is only meaningful for doctors and AssignedDoctorID only
// for patients.
type User struct {
	ID               uuid.UUID  `json:"id"`
	UIN              string     `json:"uin"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Role             string     `json:"role"`
	DoctorApproved   bool       `json:"doctor_approved"`
	AssignedDoctorID *uuid.UUID `json:"assigned_doctor_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) IsDoctor() bool  { return u.Role == auth.RoleDoctor }
func (u *User) IsPatient() bool { return u.Role == auth.RolePatient }
func (u *User) IsAdmin() bool   { return u.Role == auth.RoleAdmin }

// Summary is the public view of a user shown to the other side of a
// connection and in browse lists.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	UIN       string    `json:"uin"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

func (u *User) Summary() Summary {
	return Summary{
		ID:        u.ID,
		UIN:       u.UIN,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// Summaries maps users to their public view.
func Summaries(users []*User) []Summary {
	out := make([]Summary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out
}

// ListFilter narrows List. Zero-valued fields do not filter.
type ListFilter struct {
	Role             string
	Approved         *bool
	AssignedDoctorID *uuid.UUID
	Unassigned       bool
}

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	UIN       string `json:"uin,omitempty"`
}

// ProfileInput holds the editable profile fields. Nil fields are left
// unchanged.
type ProfileInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
