package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentaliq/api/internal/platform/generation"
)

// Generator drafts assistant replies. *generation.Gateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
	Mode() string
}

type Service struct {
	turns    TurnRepository
	patients PatientSource
	gen      Generator
	window   int
	logger   zerolog.Logger
}

// NewService wires the orchestrator. window is how many prior turns are
// sent with each message; values <= 0 use DefaultHistoryWindow.
func NewService(turns TurnRepository, patients PatientSource, gen Generator, window int, logger zerolog.Logger) *Service {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Service{
		turns:    turns,
		patients: patients,
		gen:      gen,
		window:   window,
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

// SendMessage runs one exchange: it stores the staff member's message,
// asks the generator for a reply and stores that reply. Generation failures
// never fail the exchange; the fallback reply is stored instead. Storage
// failures are returned.
func (s *Service) SendMessage(ctx context.Context, patientID, staffID uuid.UUID, raw string) (*Exchange, error) {
	message, err := normalizeMessage(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.patients.PatientRecord(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("look up patient: %w", err)
	}
	if rec == nil || rec.Archived {
		return nil, ErrPatientNotFound
	}

	recent, err := s.turns.ListRecent(ctx, patientID, s.window)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	history := reversed(recent)

	human, err := s.turns.Append(ctx, patientID, Human{StaffID: staffID}, message)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	req := Assemble(message, rec.context(), history)
	reply := s.generateReply(ctx, patientID, req)

	// The human turn is already stored; finish the pair even if the caller
	// has gone away.
	assistant, err := s.turns.Append(context.WithoutCancel(ctx), patientID, Assistant{}, reply)
	if err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}

	return &Exchange{Human: human, Assistant: assistant}, nil
}

// GetHistory returns the patient's turns, oldest first.
func (s *Service) GetHistory(ctx context.Context, patientID uuid.UUID) ([]*Turn, error) {
	return s.turns.ListByPatient(ctx, patientID)
}

// generateReply is the only place generation errors are absorbed, panics
// included.
func (s *Service) generateReply(ctx context.Context, patientID uuid.UUID, req generation.Request) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("patient_id", patientID.String()).
				Str("generation_mode", s.gen.Mode()).
				Interface("panic", r).
				Msg("generation panicked, using fallback reply")
			reply = FallbackReply
		}
	}()

	out, err := s.gen.Generate(ctx, req)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("patient_id", patientID.String()).
			Str("generation_mode", s.gen.Mode()).
			Msg("generation failed, using fallback reply")
		return FallbackReply
	}
	if strings.TrimSpace(out) == "" {
		return generation.EmptyReply
	}
	return out
}

func normalizeMessage(raw string) (string, error) {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return "", &ValidationError{Field: "message", Message: "message cannot be empty"}
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return "", &ValidationError{Field: "message", Message: fmt.Sprintf("message must be at most %d characters", MaxMessageLength)}
	}
	return msg, nil
}

func reversed(turns []*Turn) []*Turn {
	out := make([]*Turn, len(turns))
	for i, t := range turns {
		out[len(turns)-1-i] = t
	}
	return out
}

func (r *PatientRecord) context() PatientContext {
	pc := PatientContext{
		DateOfBirth:  r.DateOfBirth,
		MedicalNotes: r.MedicalNotes,
	}
	if r.Name != "" {
		name := r.Name
		pc.Name = &name
	}
	return pc
}
