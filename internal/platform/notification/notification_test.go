package notification

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	data := map[string]string{
		"recipient_name": "Pat Doe",
		"sender_name":    "Dr. Who",
		"sender_role":    "doctor",
		"responder_name": "Dr. Who",
		"actor_name":     "Dr. Who",
		"patient_name":   "Pat Doe",
		"doctor_name":    "Dr. Who",
		"uin":            "123456789012",
		"score":          "0.42",
		"created_at":     "2026-01-01",
	}
	for _, id := range []string{
		TplConnectionRequested,
		TplConnectionAccepted,
		TplConnectionRejected,
		TplConnectionEnded,
		TplPredictionSubmitted,
		TplPredictionApproved,
		TplPredictionCanceled,
		TplDoctorApproved,
		TplDoctorRejected,
	} {
		subject, body, err := eng.Render(id, data)
		if err != nil {
			t.Errorf("built-in template %q not found: %v", id, err)
			continue
		}
		if strings.Contains(subject+body, "{{") {
			t.Errorf("template %q left placeholders unrendered: %q / %q", id, subject, body)
		}
	}
}

func TestTemplateEngine_RenderMissingKey(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render(TplConnectionEnded, map[string]string{"actor_name": "Dr. Who"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{recipient_name}}") {
		t.Errorf("expected missing key to stay as placeholder, got %q", body)
	}
}

func TestMockEmailSender_Fails(t *testing.T) {
	m := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	err := m.SendEmail(context.Background(), "a@b.c", "s", "b")
	if err == nil || err.Error() != "smtp down" {
		t.Fatalf("expected smtp down error, got %v", err)
	}
	if len(m.Calls()) != 1 {
		t.Errorf("expected 1 recorded call, got %d", len(m.Calls()))
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))
	if err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "pat@example.com") {
		t.Errorf("expected recipient in log, got %s", buf.String())
	}
}
