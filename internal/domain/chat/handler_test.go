package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentaliq/api/internal/platform/auth"
	"github.com/dentaliq/api/internal/platform/middleware"
)

func sendRequestFor(f *fixture, body string, authed bool) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authed {
		req = req.WithContext(auth.WithIdentity(context.Background(), f.staff.String(), []string{"staff"}))
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
	return httpErr
}

func TestHandler_SendMessage(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	c, rec := sendRequestFor(f, `{"patientId":"`+f.patient.String()+`","message":"Is whitening safe?"}`, true)
	if err := h.SendMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if c.Get(middleware.AuditPatientKey) != f.patient.String() {
		t.Error("expected patient id to be recorded for audit")
	}

	var body struct {
		UserMessage map[string]any `json:"userMessage"`
		AIMessage   map[string]any `json:"aiMessage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserMessage["role"] != "human" || body.UserMessage["content"] != "Is whitening safe?" {
		t.Errorf("unexpected userMessage %v", body.UserMessage)
	}
	if body.UserMessage["authorId"] != f.staff.String() {
		t.Errorf("expected authorId %s, got %v", f.staff, body.UserMessage["authorId"])
	}
	if body.AIMessage["role"] != "assistant" || body.AIMessage["authorId"] != nil {
		t.Errorf("unexpected aiMessage %v", body.AIMessage)
	}
}

func TestHandler_SendMessage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   func(f *fixture) string
		authed bool
		code   int
	}{
		{"unauthenticated", func(f *fixture) string { return `{}` }, false, http.StatusUnauthorized},
		{"malformed body", func(f *fixture) string { return `{"patientId":` }, true, http.StatusBadRequest},
		{"bad patient id", func(f *fixture) string { return `{"patientId":"abc","message":"hi"}` }, true, http.StatusBadRequest},
		{"empty message", func(f *fixture) string {
			return `{"patientId":"` + f.patient.String() + `","message":"   "}`
		}, true, http.StatusBadRequest},
		{"unknown patient", func(f *fixture) string {
			return `{"patientId":"` + uuid.NewString() + `","message":"hi"}`
		}, true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c, _ := sendRequestFor(f, tt.body(f), tt.authed)
			expectHTTPError(t, NewHandler(f.svc).SendMessage(c), tt.code)
			if len(f.repo.turns) != 0 {
				t.Error("expected no turns stored")
			}
		})
	}
}

func TestHandler_SendMessage_StorageError(t *testing.T) {
	f := newFixture(t)
	f.repo.failOn = "append:human"
	f.repo.failErr = errors.New("disk full")

	c, _ := sendRequestFor(f, `{"patientId":"`+f.patient.String()+`","message":"hi"}`, true)
	httpErr := expectHTTPError(t, NewHandler(f.svc).SendMessage(c), http.StatusInternalServerError)
	if httpErr.Message != "internal server error" {
		t.Errorf("storage details must not reach the client: %v", httpErr.Message)
	}
	if !errors.Is(httpErr.Internal, f.repo.failErr) {
		t.Error("expected storage error as internal cause")
	}
}

func TestHandler_GetHistory(t *testing.T) {
	f := newFixture(t)
	f.send(t, "first")
	f.send(t, "second")

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("patientId")
	c.SetParamValues(f.patient.String())

	if err := NewHandler(f.svc).GetHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Messages []Turn `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(body.Messages))
	}
	wantRoles := []Role{RoleHuman, RoleAssistant, RoleHuman, RoleAssistant}
	for i, m := range body.Messages {
		if m.Role() != wantRoles[i] {
			t.Errorf("message %d role %s, want %s", i, m.Role(), wantRoles[i])
		}
	}
	if body.Messages[0].Content != "first" || body.Messages[2].Content != "second" {
		t.Error("messages out of order")
	}
}

func TestHandler_GetHistory_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("patientId")
	c.SetParamValues(uuid.NewString())

	if err := NewHandler(f.svc).GetHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"messages":[]}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetHistory_BadID(t *testing.T) {
	f := newFixture(t)
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("patientId")
	c.SetParamValues("nope")
	expectHTTPError(t, NewHandler(f.svc).GetHistory(c), http.StatusBadRequest)
}

func TestHandler_Routes(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"), nil)

	found := map[string]bool{}
	for _, r := range e.Routes() {
		found[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{"GET /api/v1/chat/:patientId", "POST /api/v1/chat"} {
		if !found[want] {
			t.Errorf("missing route %s", want)
		}
	}
}
