package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTurn_JSON(t *testing.T) {
	staff := uuid.New()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	human := Turn{ID: uuid.New(), PatientID: uuid.New(), Author: Human{StaffID: staff}, Content: "hi", CreatedAt: created}
	assistant := Turn{ID: uuid.New(), PatientID: human.PatientID, Author: Assistant{}, Content: "hello", CreatedAt: created}

	var h map[string]any
	b, _ := json.Marshal(human)
	if err := json.Unmarshal(b, &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h["role"] != "human" || h["authorId"] != staff.String() || h["patientId"] != human.PatientID.String() {
		t.Errorf("unexpected human JSON: %s", b)
	}
	if h["createdAt"] != "2026-02-01T10:00:00Z" {
		t.Errorf("unexpected createdAt %v", h["createdAt"])
	}

	var a map[string]any
	b, _ = json.Marshal(&assistant)
	if err := json.Unmarshal(b, &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a["role"] != "assistant" || a["authorId"] != nil {
		t.Errorf("unexpected assistant JSON: %s", b)
	}
}

func TestTurn_UnmarshalJSON(t *testing.T) {
	staff := uuid.New()
	in := Turn{ID: uuid.New(), PatientID: uuid.New(), Author: Human{StaffID: staff}, Content: "hi"}
	b, _ := json.Marshal(in)

	var out Turn
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	h, ok := out.Author.(Human)
	if !ok || h.StaffID != staff {
		t.Errorf("expected Human author %s, got %#v", staff, out.Author)
	}

	bad := []byte(`{"id":"` + uuid.NewString() + `","role":"human","content":"x"}`)
	if err := json.Unmarshal(bad, &out); err == nil {
		t.Error("expected error for human turn without author")
	}
}

func TestAuthorFromColumns(t *testing.T) {
	id := uuid.New()
	if a, err := authorFromColumns("human", &id); err != nil || a.(Human).StaffID != id {
		t.Errorf("human: %v %v", a, err)
	}
	if a, err := authorFromColumns("assistant", nil); err != nil || a.Role() != RoleAssistant {
		t.Errorf("assistant: %v %v", a, err)
	}
	if _, err := authorFromColumns("system", nil); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestExchange_JSON(t *testing.T) {
	ex := Exchange{
		Human:     &Turn{Author: Human{StaffID: uuid.New()}, Content: "q"},
		Assistant: &Turn{Author: Assistant{}, Content: "a"},
	}
	var out map[string]map[string]any
	b, _ := json.Marshal(ex)
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["userMessage"]["content"] != "q" || out["aiMessage"]["content"] != "a" {
		t.Errorf("unexpected exchange JSON: %s", b)
	}
}
