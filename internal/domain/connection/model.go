package connection

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
)

// Request is a connection request between a doctor and a patient. Requests
// are never deleted; resolved ones are history.
type Request struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Status      Status
	RequestedAt time.Time
	RespondedAt *time.Time
}

// Initiator is the party that created the request.
func (r *Request) Initiator() Party {
	if r.Status.Track == DoctorInitiated {
		return PartyDoctor
	}
	return PartyPatient
}

// PartyOf reports which side of the request userID is on.
func (r *Request) PartyOf(userID uuid.UUID) (Party, bool) {
	switch userID {
	case r.DoctorID:
		return PartyDoctor, true
	case r.PatientID:
		return PartyPatient, true
	default:
		return 0, false
	}
}

// UserFor returns the user id on side p.
func (r *Request) UserFor(p Party) uuid.UUID {
	if p == PartyDoctor {
		return r.DoctorID
	}
	return r.PatientID
}

// Other returns the id of the party opposite userID.
func (r *Request) Other(userID uuid.UUID) uuid.UUID {
	if userID == r.DoctorID {
		return r.PatientID
	}
	return r.DoctorID
}

// View is the JSON shape of a request.
type View struct {
	ID           uuid.UUID         `json:"id"`
	DoctorID     uuid.UUID         `json:"doctor_id"`
	PatientID    uuid.UUID         `json:"patient_id"`
	Initiator    string            `json:"initiator"`
	Status       Status            `json:"status"`
	RequestedAt  time.Time         `json:"requested_at"`
	RespondedAt  *time.Time        `json:"responded_at,omitempty"`
	Counterparty *identity.Summary `json:"counterparty,omitempty"`
}

func (r *Request) View() View {
	return View{
		ID:          r.ID,
		DoctorID:    r.DoctorID,
		PatientID:   r.PatientID,
		Initiator:   r.Status.Track.String(),
		Status:      r.Status,
		RequestedAt: r.RequestedAt,
		RespondedAt: r.RespondedAt,
	}
}

// QueryView selects which of an actor's requests Query returns.
type QueryView string

const (
	ViewIncoming QueryView = "incoming"
	ViewSent     QueryView = "sent"
	ViewAccepted QueryView = "accepted"
	ViewHistory  QueryView = "history"
)

// Filter selects requests on one side of the pair. Empty Statuses means
// any status.
type Filter struct {
	Party    Party
	UserID   uuid.UUID
	Statuses []Status
	Limit    int
	Offset   int
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}
