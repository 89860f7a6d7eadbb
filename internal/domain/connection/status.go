package connection

import (
	"fmt"
)

// Track records who initiated a request. It is fixed at creation and
// decides which party responds and which storage strings apply.
type Track int

const (
	DoctorInitiated Track = iota + 1
	PatientInitiated
)

// String returns the initiator role stored in the initiator column.
func (t Track) String() string {
	switch t {
	case DoctorInitiated:
		return "doctor"
	case PatientInitiated:
		return "patient"
	default:
		return "unknown"
	}
}

// ParseTrack is the inverse of Track.String.
func ParseTrack(s string) (Track, error) {
	switch s {
	case "doctor":
		return DoctorInitiated, nil
	case "patient":
		return PatientInitiated, nil
	default:
		return 0, fmt.Errorf("unknown initiator %q", s)
	}
}

// Responder is the party expected to answer a pending request on t.
func (t Track) Responder() Party {
	if t == DoctorInitiated {
		return PartyPatient
	}
	return PartyDoctor
}

// Party is one side of a doctor/patient pair.
type Party int

const (
	PartyDoctor Party = iota + 1
	PartyPatient
)

func (p Party) String() string {
	switch p {
	case PartyDoctor:
		return "doctor"
	case PartyPatient:
		return "patient"
	default:
		return "unknown"
	}
}

type Phase int

const (
	Pending Phase = iota + 1
	Accepted
	Rejected
	Disconnected       // ended by the doctor
	ClientDisconnected // ended by the patient
)

var phases = []Phase{Pending, Accepted, Rejected, Disconnected, ClientDisconnected}

// Status is a request's position in its track. Transitions never change
// the track, so a doctor-initiated request can never reach a
// patient-initiated state.
type Status struct {
	Track Track
	Phase Phase
}

// Initial is the status a new request on t starts in.
func Initial(t Track) Status {
	return Status{Track: t, Phase: Pending}
}

// String returns the storage string.
func (s Status) String() string {
	switch s.Phase {
	case Disconnected:
		return "disconnected"
	case ClientDisconnected:
		return "client_disconnected"
	}

	switch s.Track {
	case DoctorInitiated:
		switch s.Phase {
		case Pending:
			return "pending_client_approval"
		case Accepted:
			return "client_accepted"
		case Rejected:
			return "client_rejected"
		}
	case PatientInitiated:
		switch s.Phase {
		case Pending:
			return "pending_doctor_approval"
		case Accepted:
			return "doctor_accepted"
		case Rejected:
			return "doctor_rejected"
		}
	}
	return "invalid"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus maps a storage string back to a Status on track t. Strings
// that belong to the other track are rejected.
func ParseStatus(t Track, s string) (Status, error) {
	if t != DoctorInitiated && t != PatientInitiated {
		return Status{}, fmt.Errorf("unknown track %d", t)
	}
	for _, p := range phases {
		st := Status{Track: t, Phase: p}
		if st.String() == s {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("status %q is not valid for %s-initiated requests", s, t)
}

func (s Status) IsPending() bool  { return s.Phase == Pending }
func (s Status) IsAccepted() bool { return s.Phase == Accepted }

// Respond resolves a pending request.
func (s Status) Respond(accept bool) (Status, error) {
	if s.Phase != Pending {
		return s, ErrInvalidState
	}
	if accept {
		return Status{Track: s.Track, Phase: Accepted}, nil
	}
	return Status{Track: s.Track, Phase: Rejected}, nil
}

// Disconnect ends an accepted connection. The resulting phase records
// which side ended it.
func (s Status) Disconnect(by Party) (Status, error) {
	if s.Phase != Accepted {
		return s, ErrInvalidState
	}
	switch by {
	case PartyDoctor:
		return Status{Track: s.Track, Phase: Disconnected}, nil
	case PartyPatient:
		return Status{Track: s.Track, Phase: ClientDisconnected}, nil
	default:
		return s, fmt.Errorf("unknown party %d", by)
	}
}

// PendingStatuses and AcceptedStatuses cover both tracks.
var (
	PendingStatuses  = []Status{Initial(DoctorInitiated), Initial(PatientInitiated)}
	AcceptedStatuses = []Status{{DoctorInitiated, Accepted}, {PatientInitiated, Accepted}}
)
