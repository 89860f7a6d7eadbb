package prediction

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("prediction not found")
	ErrForbidden    = errors.New("not authorized for this patient's predictions")
	ErrInvalidState = errors.New("prediction has already been reviewed")
	ErrValidation   = errors.New("validation error")
)

// Status is the review state of a prediction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusCanceled Status = "canceled"
)

// Prediction is a cardiovascular risk score a patient saved, along with the
// inputs that produced it and the assigned doctor's review.
type Prediction struct {
	ID            uuid.UUID      `json:"id"`
	UIN           string         `json:"uin"`
	Score         float64        `json:"score"`
	MedicalInputs map[string]any `json:"medical_inputs"`
	Feedback      string         `json:"feedback"`
	Status        Status         `json:"status"`
	ReviewedBy    *uuid.UUID     `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Summary counts a patient's predictions by status.
type Summary struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Canceled int `json:"canceled"`
}

func (s *Summary) add(status Status, n int) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusApproved:
		s.Approved += n
	case StatusCanceled:
		s.Canceled += n
	}
}

// Dashboard is a doctor's overview of their assigned patients.
type Dashboard struct {
	PatientCount        int `json:"patient_count"`
	PendingPredictions  int `json:"pending_predictions"`
	ApprovedPredictions int `json:"approved_predictions"`
}

type SaveInput struct {
	UIN           string         `json:"uin"`
	Score         *float64       `json:"score"`
	MedicalInputs map[string]any `json:"medical_inputs"`
}

// MaxFeedbackLen bounds doctor feedback in bytes.
const MaxFeedbackLen = 4000
