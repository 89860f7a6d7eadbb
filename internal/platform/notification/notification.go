// Package notification delivers transactional email: templates rendered
// with {{key}} placeholders, an asynchronous dispatcher and the provider
// senders (SendGrid, SES, log-only).
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Built-in template ids.
const (
	TplConnectionRequested = "connection-requested"
	TplConnectionAccepted  = "connection-accepted"
	TplConnectionRejected  = "connection-rejected"
	TplConnectionEnded     = "connection-ended"
	TplPredictionSubmitted = "prediction-submitted"
	TplPredictionApproved  = "prediction-approved"
	TplPredictionCanceled  = "prediction-canceled"
	TplDoctorApproved      = "doctor-approved"
	TplDoctorRejected      = "doctor-rejected"
)

// Template defines a reusable email.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplConnectionRequested,
			Name:    "Connection Requested",
			Subject: "New connection request from {{sender_name}}",
			Body:    "Hello {{recipient_name}}, {{sender_name}} ({{sender_role}}) would like to connect with you on CardioCare. Log in to accept or decline the request.",
		},
		{
			ID:      TplConnectionAccepted,
			Name:    "Connection Accepted",
			Subject: "{{responder_name}} accepted your connection request",
			Body:    "Hello {{recipient_name}}, {{responder_name}} accepted your connection request. You are now connected on CardioCare.",
		},
		{
			ID:      TplConnectionRejected,
			Name:    "Connection Rejected",
			Subject: "Your connection request was declined",
			Body:    "Hello {{recipient_name}}, {{responder_name}} declined your connection request.",
		},
		{
			ID:      TplConnectionEnded,
			Name:    "Connection Ended",
			Subject: "{{actor_name}} ended your connection",
			Body:    "Hello {{recipient_name}}, {{actor_name}} has ended your CardioCare connection.",
		},
		{
			ID:      TplPredictionSubmitted,
			Name:    "Prediction Submitted",
			Subject: "New risk assessment from {{patient_name}}",
			Body:    "Hello {{recipient_name}}, {{patient_name}} (UIN {{uin}}) submitted a new cardiovascular risk assessment with a score of {{score}}. It is waiting for your review.",
		},
		{
			ID:      TplPredictionApproved,
			Name:    "Prediction Approved",
			Subject: "Your risk assessment was reviewed",
			Body:    "Hello {{recipient_name}}, {{doctor_name}} approved your risk assessment from {{created_at}}.",
		},
		{
			ID:      TplPredictionCanceled,
			Name:    "Prediction Canceled",
			Subject: "Your risk assessment was rejected",
			Body:    "Hello {{recipient_name}}, {{doctor_name}} rejected your risk assessment from {{created_at}}. Please contact your doctor for details.",
		},
		{
			ID:      TplDoctorApproved,
			Name:    "Doctor Approved",
			Subject: "Your CardioCare doctor account is active",
			Body:    "Hello {{recipient_name}}, an administrator approved your doctor account. Patients can now find you and send connection requests.",
		},
		{
			ID:      TplDoctorRejected,
			Name:    "Doctor Rejected",
			Subject: "Your CardioCare registration was declined",
			Body:    "Hello {{recipient_name}}, an administrator declined your doctor registration and the account has been removed.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogSender writes emails to the log instead of delivering them. It is the
// development default.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("email not sent (log provider)")
	return nil
}
