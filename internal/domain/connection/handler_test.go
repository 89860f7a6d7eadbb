package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
)

func jsonContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func asUser(c echo.Context, u *identity.User) {
	ctx := auth.WithUser(c.Request().Context(), u.ID, u.Role)
	c.SetRequest(c.Request().WithContext(ctx))
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", want, err)
	}
	if he.Code != want {
		t.Fatalf("expected %d, got %d (%v)", want, he.Code, he.Message)
	}
}

// viewBody mirrors View with the status as its wire string.
type viewBody struct {
	ID           uuid.UUID         `json:"id"`
	PatientID    uuid.UUID         `json:"patient_id"`
	Initiator    string            `json:"initiator"`
	Status       string            `json:"status"`
	Counterparty *identity.Summary `json:"counterparty"`
}

func TestHandler_Initiate(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d, p := f.doctor("dana"), f.patient("pat")

	c, rec := jsonContext(e, http.MethodPost, "/api/connections", `{"target_id":"`+p.ID.String()+`"}`)
	asUser(c, d)
	if err := h.Initiate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var v viewBody
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Status != "pending_client_approval" || v.Initiator != "doctor" || v.PatientID != p.ID {
		t.Errorf("unexpected view: %+v", v)
	}

	// Same lane again.
	c, _ = jsonContext(e, http.MethodPost, "/api/connections", `{"target_id":"`+p.ID.String()+`"}`)
	asUser(c, d)
	expectStatus(t, h.Initiate(c), http.StatusBadRequest)
}

func TestHandler_Initiate_Errors(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d := f.doctor("dana")
	unapproved := f.addUser(auth.RoleDoctor, "newbie", false)
	p := f.patient("pat")

	tests := []struct {
		name  string
		actor *identity.User
		body  string
		want  int
	}{
		{"bad target id", d, `{"target_id":"nope"}`, http.StatusBadRequest},
		{"unknown target", d, `{"target_id":"` + uuid.NewString() + `"}`, http.StatusNotFound},
		{"wrong role", d, `{"target_id":"` + unapproved.ID.String() + `"}`, http.StatusBadRequest},
		{"not approved", unapproved, `{"target_id":"` + p.ID.String() + `"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonContext(e, http.MethodPost, "/api/connections", tt.body)
			asUser(c, tt.actor)
			expectStatus(t, h.Initiate(c), tt.want)
		})
	}
}

func TestHandler_Respond(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d, p := f.doctor("dana"), f.patient("pat")
	req := f.initiate(t, d, p)

	respond := func(u *identity.User, id, body string) (*httptest.ResponseRecorder, error) {
		c, rec := jsonContext(e, http.MethodPut, "/api/connections/"+id+"/respond", body)
		c.SetParamNames("id")
		c.SetParamValues(id)
		asUser(c, u)
		return rec, h.Respond(c)
	}

	_, err := respond(p, req.ID.String(), `{"action":"maybe"}`)
	expectStatus(t, err, http.StatusBadRequest)

	_, err = respond(p, "not-a-uuid", `{"action":"accept"}`)
	expectStatus(t, err, http.StatusBadRequest)

	_, err = respond(d, req.ID.String(), `{"action":"accept"}`)
	expectStatus(t, err, http.StatusForbidden)

	rec, err := respond(p, req.ID.String(), `{"action":"accept"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"client_accepted"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	_, err = respond(p, req.ID.String(), `{"action":"reject"}`)
	expectStatus(t, err, http.StatusBadRequest)
}

func TestHandler_Respond_TransientStore(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d, p := f.doctor("dana"), f.patient("pat")
	req := f.initiate(t, d, p)
	f.tx.commitErr = errors.New("commit failed")

	c, _ := jsonContext(e, http.MethodPut, "/api/connections/"+req.ID.String()+"/respond", `{"action":"accept"}`)
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())
	asUser(c, p)

	err := h.Respond(c)
	expectStatus(t, err, http.StatusInternalServerError)
	var he *echo.HTTPError
	errors.As(err, &he)
	if he.Message != ErrTransientStore.Error() {
		t.Errorf("expected retry-safe message, got %v", he.Message)
	}
}

func TestHandler_Disconnect(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d, p := f.doctor("dana"), f.patient("pat")
	req := f.initiate(t, d, p)

	c, _ := jsonContext(e, http.MethodPost, "/api/connections/"+req.ID.String()+"/disconnect", "")
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())
	asUser(c, d)
	expectStatus(t, h.Disconnect(c), http.StatusBadRequest)

	if _, err := f.svc.Respond(c.Request().Context(), actorOf(p), req.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}

	c, rec := jsonContext(e, http.MethodPost, "/api/connections/"+req.ID.String()+"/disconnect", "")
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())
	asUser(c, d)
	if err := h.Disconnect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"disconnected"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_DisconnectAssigned(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	p := f.patient("pat")

	c, _ := jsonContext(e, http.MethodDelete, "/api/connections/assigned", "")
	asUser(c, p)
	expectStatus(t, h.DisconnectAssigned(c), http.StatusNotFound)
}

func TestHandler_Query(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	d, p := f.doctor("dana"), f.patient("pat")
	f.initiate(t, d, p)

	c, rec := jsonContext(e, http.MethodGet, "/api/connections", "")
	asUser(c, p)
	if err := h.Query(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data  []viewBody `json:"data"`
		Total int        `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("expected one incoming request, got %d", resp.Total)
	}
	if resp.Data[0].Counterparty == nil || resp.Data[0].Counterparty.ID != d.ID {
		t.Errorf("expected doctor summary, got %+v", resp.Data[0].Counterparty)
	}

	c, _ = jsonContext(e, http.MethodGet, "/api/connections?view=everything", "")
	asUser(c, p)
	expectStatus(t, h.Query(c), http.StatusBadRequest)
}
