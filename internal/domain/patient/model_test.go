package patient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPatient_MarshalJSON(t *testing.T) {
	dob := time.Date(1985, 4, 12, 0, 0, 0, 0, time.UTC)
	notes := "penicillin allergy"
	p := Patient{
		ID:           uuid.New(),
		Name:         "Jane Roe",
		DOB:          &dob,
		MedicalNotes: &notes,
		Status:       StatusActive,
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["dob"] != "1985-04-12" {
		t.Errorf("expected date-only dob, got %v", out["dob"])
	}
	if out["medical_notes"] != notes || out["status"] != "active" {
		t.Errorf("unexpected fields: %v", out)
	}
	if v, ok := out["email"]; !ok || v != nil {
		t.Errorf("expected email null, got %v (present=%v)", v, ok)
	}
	if _, ok := out["created_by"]; ok {
		t.Error("expected created_by to be omitted when unset")
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusInactive, StatusArchived} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Error("deleted should not be valid")
	}
}

func TestChanges_Empty(t *testing.T) {
	if !(Changes{}).Empty() {
		t.Error("zero Changes should be empty")
	}
	empty := ""
	if (Changes{Phone: &empty}).Empty() {
		t.Error("clearing a field is a change")
	}
}
