package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

const (
	MaxNameLength  = 200
	MaxPhoneLength = 30
	dateLayout     = "2006-01-02"
)

// ErrNotFound is returned when no patient matches, and by Archive when the
// patient is already archived.
var ErrNotFound = errors.New("patient not found")

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Patient struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        *string    `json:"email"`
	Phone        *string    `json:"phone"`
	DOB          *time.Time `json:"-"`
	MedicalNotes *string    `json:"medical_notes"`
	Status       Status     `json:"status"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Archived reports whether the patient has been soft-deleted.
func (p *Patient) Archived() bool { return p.Status == StatusArchived }

// MarshalJSON renders dob as a calendar date.
func (p Patient) MarshalJSON() ([]byte, error) {
	type alias Patient
	var dob *string
	if p.DOB != nil {
		s := p.DOB.Format(dateLayout)
		dob = &s
	}
	return json.Marshal(struct {
		alias
		DOB *string `json:"dob"`
	}{alias(p), dob})
}

// CreateInput is the body of POST /patients.
type CreateInput struct {
	Name         string  `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	DOB          *string `json:"dob"`
	MedicalNotes *string `json:"medical_notes"`
}

// UpdateInput is the body of PATCH /patients/:id. Nil fields are left
// unchanged; an empty string clears an optional field.
type UpdateInput struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	DOB          *string `json:"dob"`
	MedicalNotes *string `json:"medical_notes"`
	Status       *string `json:"status"`
}

// Changes is a validated UpdateInput. For the optional text columns and DOB
// a non-nil empty string means NULL.
type Changes struct {
	Name         *string
	Email        *string
	Phone        *string
	DOB          *string
	MedicalNotes *string
	Status       *Status
}

func (c Changes) Empty() bool {
	return c.Name == nil && c.Email == nil && c.Phone == nil &&
		c.DOB == nil && c.MedicalNotes == nil && c.Status == nil
}

// ListFilter narrows ListPatients. Search matches name or email,
// case-insensitively.
type ListFilter struct {
	Search string
	Status Status
}
