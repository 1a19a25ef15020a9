package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentaliq/api/internal/assistant"
	"github.com/dentaliq/api/internal/config"
	"github.com/dentaliq/api/internal/domain/chat"
	"github.com/dentaliq/api/internal/domain/patient"
	"github.com/dentaliq/api/internal/platform/db"
	"github.com/dentaliq/api/internal/platform/generation"
	"github.com/dentaliq/api/internal/platform/middleware"
)

// -- in-memory stores --

type memPatients struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*patient.Patient
}

func newMemPatients() *memPatients {
	return &memPatients{rows: make(map[uuid.UUID]*patient.Patient)}
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatients) List(_ context.Context, _ patient.ListFilter, _, _ int) ([]*patient.Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*patient.Patient, 0, len(m.rows))
	for _, p := range m.rows {
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memPatients) Update(_ context.Context, id uuid.UUID, ch patient.Changes) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	if ch.Name != nil {
		p.Name = *ch.Name
	}
	cp := *p
	return &cp, nil
}

func (m *memPatients) Archive(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Archived() {
		return patient.ErrNotFound
	}
	p.Status = patient.StatusArchived
	return nil
}

type memTurns struct {
	mu    sync.Mutex
	turns []*chat.Turn
}

func (m *memTurns) Append(_ context.Context, patientID uuid.UUID, author chat.Author, content string) (*chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &chat.Turn{ID: uuid.New(), PatientID: patientID, Author: author, Content: content, CreatedAt: time.Now()}
	m.turns = append(m.turns, t)
	return t, nil
}

func (m *memTurns) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*chat.Turn{}
	for _, t := range m.turns {
		if t.PatientID == patientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTurns) ListRecent(ctx context.Context, patientID uuid.UUID, limit int) ([]*chat.Turn, error) {
	all, _ := m.ListByPatient(ctx, patientID)
	out := []*chat.Turn{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "development",
		CORSOrigins:         []string{"http://localhost:5173"},
		BodyLimit:           "1M",
		RateLimitRPS:        100,
		RateLimitBurst:      100,
		ChatRateLimitPerMin: 3,
		ChatHistoryWindow:   20,
	}
}

func testRouter(t *testing.T, cfg *config.Config, pinger db.Pinger) (http.Handler, *memPatients) {
	t.Helper()
	patients := newMemPatients()
	e := newRouter(cfg, zerolog.Nop(), deps{
		DB:        pinger,
		Patients:  patients,
		Turns:     &memTurns{},
		Gateway:   generation.New(generation.Config{}),
		ChatStore: middleware.NewChatMemoryStore(cfg.ChatRateLimitPerMin),
	})
	return e, patients
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// -- tests --

func TestRouter_Health(t *testing.T) {
	h, _ := testRouter(t, testConfig(), stubPinger{})

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["generation"] != generation.ModeMock {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}

	rec = do(t, h, http.MethodGet, "/health/generation", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health/generation = %d", rec.Code)
	}
}

func TestRouter_HealthDBUnavailable(t *testing.T) {
	h, _ := testRouter(t, testConfig(), stubPinger{err: errors.New("connection refused")})

	rec := do(t, h, http.MethodGet, "/health/db", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health/db = %d, want 503", rec.Code)
	}
}

func TestRouter_RequiresTokenOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.JWTSecret = strings.Repeat("k", 32)
	h, _ := testRouter(t, cfg, stubPinger{})

	rec := do(t, h, http.MethodGet, "/api/v1/patients", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/v1/patients without token = %d, want 401", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, health must stay public", rec.Code)
	}
}

func TestRouter_RoleCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.JWTSecret = strings.Repeat("k", 32)
	h, _ := testRouter(t, cfg, stubPinger{})

	sign := func(role string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  uuid.NewString(),
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		s, err := tok.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		role string
		want int
	}{
		{"staff", http.StatusOK},
		{"admin", http.StatusOK},
		{"patient", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
		req.Header.Set("Authorization", "Bearer "+sign(tt.role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("role %q: status = %d, want %d", tt.role, rec.Code, tt.want)
		}
	}
}

func TestRouter_ChatExchange(t *testing.T) {
	h, _ := testRouter(t, testConfig(), stubPinger{})

	rec := do(t, h, http.MethodPost, "/api/v1/patients", `{"name":"Priya Nair","dob":"1990-05-12","medical_notes":"Mild sensitivity to cold."}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create patient = %d: %s", rec.Code, rec.Body.String())
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/chat", `{"patientId":"`+p.ID+`","message":"  Is cold sensitivity normal?  "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send message = %d: %s", rec.Code, rec.Body.String())
	}
	var ex struct {
		UserMessage struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"userMessage"`
		AIMessage struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"aiMessage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ex); err != nil {
		t.Fatal(err)
	}
	if ex.UserMessage.Content != "Is cold sensitivity normal?" || ex.UserMessage.Role != "human" {
		t.Errorf("unexpected human turn: %+v", ex.UserMessage)
	}
	if ex.AIMessage.Content != generation.MockReplies()[0] || ex.AIMessage.Role != "assistant" {
		t.Errorf("unexpected assistant turn: %+v", ex.AIMessage)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/chat/"+p.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get history = %d", rec.Code)
	}
	var hist struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != 2 {
		t.Errorf("history length = %d, want 2", len(hist.Messages))
	}
}

func TestRouter_ChatArchivedPatient(t *testing.T) {
	h, patients := testRouter(t, testConfig(), stubPinger{})
	p := &patient.Patient{Name: "Vikram Singh", Status: patient.StatusActive}
	if err := patients.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodDelete, "/api/v1/patients/"+p.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("archive = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/chat", `{"patientId":"`+p.ID.String()+`","message":"hello"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("send to archived patient = %d, want 404", rec.Code)
	}
}

func TestRouter_ChatRateLimited(t *testing.T) {
	cfg := testConfig()
	h, _ := testRouter(t, cfg, stubPinger{})
	body := `{"patientId":"` + uuid.NewString() + `","message":"hello"}`

	for i := 0; i < cfg.ChatRateLimitPerMin; i++ {
		if rec := do(t, h, http.MethodPost, "/api/v1/chat", body); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/v1/chat", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after %d messages, got %d", cfg.ChatRateLimitPerMin, rec.Code)
	}

	// history reads are not subject to the chat limit
	rec = do(t, h, http.MethodGet, "/api/v1/chat/"+uuid.NewString(), "")
	if rec.Code == http.StatusTooManyRequests {
		t.Error("GET /chat/:patientId should not be chat limited")
	}
}

func TestPatientRepoAdapter(t *testing.T) {
	repo := newMemPatients()
	a := NewPatientRepoAdapter(repo)

	if _, err := a.PatientRecord(context.Background(), uuid.New()); !errors.Is(err, chat.ErrPatientNotFound) {
		t.Errorf("unknown patient: got %v, want ErrPatientNotFound", err)
	}

	dob := time.Date(1972, 9, 3, 0, 0, 0, 0, time.UTC)
	notes := "Crown pending."
	p := &patient.Patient{Name: "Arjun Mehta", DOB: &dob, MedicalNotes: &notes, Status: patient.StatusArchived}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	rec, err := a.PatientRecord(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "Arjun Mehta" || !rec.DateOfBirth.Equal(dob) || *rec.MedicalNotes != notes || !rec.Archived {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAssistantServer(t *testing.T) {
	svc := assistant.NewWithClient(assistant.Config{Model: "gpt-4o-mini"}, nil, zerolog.Nop())
	h := newAssistantServer(svc, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"mock_mode":true`) {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/generate", `{"message":"hello","history":[]}`)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /generate = %d", rec.Code)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_patients.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_chat_turns.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "schema: public") {
		t.Errorf("missing schema header: %q", out)
	}
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2026-01-02 03:04:05") {
		t.Errorf("missing applied row: %q", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row: %q", out)
	}
}

func TestDemoPatientsAreValid(t *testing.T) {
	svc := patient.NewService(newMemPatients())
	for _, in := range demoPatients {
		if _, err := svc.CreatePatient(context.Background(), in, nil); err != nil {
			t.Errorf("demo patient %s rejected: %v", in.Name, err)
		}
	}
	for _, msg := range demoExchange {
		if len([]rune(msg)) > chat.MaxMessageLength {
			t.Errorf("demo message too long: %d", len([]rune(msg)))
		}
	}
}
