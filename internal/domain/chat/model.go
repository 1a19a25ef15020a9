// Package chat keeps the per-patient conversation between clinic staff and
// the assistant and runs each message exchange.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Author says who wrote a turn. It is either Human or Assistant.
type Author interface {
	Role() Role
	isAuthor()
}

// Human is a turn written by a staff member.
type Human struct {
	StaffID uuid.UUID
}

func (Human) Role() Role { return RoleHuman }
func (Human) isAuthor()  {}

// Assistant is a machine-generated turn. It has no staff author.
type Assistant struct{}

func (Assistant) Role() Role { return RoleAssistant }
func (Assistant) isAuthor()  {}

// authorFromColumns rebuilds an Author from its stored projection.
func authorFromColumns(role string, authorID *uuid.UUID) (Author, error) {
	switch Role(role) {
	case RoleHuman:
		if authorID == nil {
			return nil, fmt.Errorf("human turn without author")
		}
		return Human{StaffID: *authorID}, nil
	case RoleAssistant:
		return Assistant{}, nil
	default:
		return nil, fmt.Errorf("unknown turn role %q", role)
	}
}

// authorColumns is the stored projection of an Author: role plus nullable
// author id.
func authorColumns(a Author) (Role, *uuid.UUID) {
	if h, ok := a.(Human); ok {
		id := h.StaffID
		return RoleHuman, &id
	}
	return RoleAssistant, nil
}

// Turn is one message in a patient's chat history. Turns are never edited
// or deleted.
type Turn struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Author    Author
	Content   string
	CreatedAt time.Time
}

func (t *Turn) Role() Role { return t.Author.Role() }

// AuthorID is the staff member who wrote a human turn, nil for assistant turns.
func (t *Turn) AuthorID() *uuid.UUID {
	_, id := authorColumns(t.Author)
	return id
}

type turnJSON struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patientId"`
	AuthorID  *uuid.UUID `json:"authorId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal(turnJSON{
		ID:        t.ID,
		PatientID: t.PatientID,
		AuthorID:  t.AuthorID(),
		Role:      t.Role(),
		Content:   t.Content,
		CreatedAt: t.CreatedAt,
	})
}

func (t *Turn) UnmarshalJSON(b []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	author, err := authorFromColumns(string(raw.Role), raw.AuthorID)
	if err != nil {
		return err
	}
	*t = Turn{
		ID:        raw.ID,
		PatientID: raw.PatientID,
		Author:    author,
		Content:   raw.Content,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

// Exchange is the pair of turns one SendMessage call appends.
type Exchange struct {
	Human     *Turn `json:"userMessage"`
	Assistant *Turn `json:"aiMessage"`
}

const (
	MaxMessageLength     = 2000
	DefaultHistoryWindow = 20

	// FallbackReply is stored as the assistant turn when generation fails.
	FallbackReply = "I'm sorry, I'm unable to process your request right now. Please try again in a moment or contact your clinic staff directly."
)

// ErrPatientNotFound is returned when the patient does not exist or is
// archived.
var ErrPatientNotFound = errors.New("patient not found")

// ValidationError reports malformed input. It is always returned before any
// turn is read or written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PatientContext is the patient metadata given to the assistant. Nil fields
// are left out.
type PatientContext struct {
	Name         *string
	DateOfBirth  *time.Time
	MedicalNotes *string
}
