package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TurnRepository is the append-only history store.
type TurnRepository interface {
	// Append stores a new turn and returns it with its id and timestamp.
	Append(ctx context.Context, patientID uuid.UUID, author Author, content string) (*Turn, error)
	// ListByPatient returns every turn for the patient, oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Turn, error)
	// ListRecent returns up to limit turns, newest first.
	ListRecent(ctx context.Context, patientID uuid.UUID, limit int) ([]*Turn, error)
}

// PatientRecord is what the chat needs to know about a patient.
type PatientRecord struct {
	Name         string
	DateOfBirth  *time.Time
	MedicalNotes *string
	Archived     bool
}

// PatientSource looks patients up. It returns ErrPatientNotFound when the
// patient does not exist.
type PatientSource interface {
	PatientRecord(ctx context.Context, patientID uuid.UUID) (*PatientRecord, error)
}
