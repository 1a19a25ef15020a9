package patient

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreatePatient(ctx context.Context, in CreateInput, createdBy *uuid.UUID) (*Patient, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	p := &Patient{
		Name:      name,
		Status:    StatusActive,
		CreatedBy: createdBy,
	}
	if p.Email, err = normalizeEmail(in.Email); err != nil {
		return nil, err
	}
	if p.Phone, err = normalizePhone(in.Phone); err != nil {
		return nil, err
	}
	if in.DOB != nil && strings.TrimSpace(*in.DOB) != "" {
		dob, err := parseDOB(*in.DOB)
		if err != nil {
			return nil, err
		}
		p.DOB = &dob
	}
	p.MedicalNotes = trimmedOrNil(in.MedicalNotes)

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Message: "must be one of active, inactive, archived"}
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// UpdatePatient applies a partial update. Status may only move between
// active and inactive; archiving goes through ArchivePatient.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, in UpdateInput) (*Patient, error) {
	var (
		c   Changes
		err error
	)
	if in.Name != nil {
		name, err := normalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		c.Name = &name
	}
	if in.Email != nil {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return nil, err
		}
		c.Email = orEmpty(email)
	}
	if in.Phone != nil {
		phone, err := normalizePhone(in.Phone)
		if err != nil {
			return nil, err
		}
		c.Phone = orEmpty(phone)
	}
	if in.DOB != nil {
		v := strings.TrimSpace(*in.DOB)
		if v != "" {
			if _, err = parseDOB(v); err != nil {
				return nil, err
			}
		}
		c.DOB = &v
	}
	if in.MedicalNotes != nil {
		c.MedicalNotes = orEmpty(trimmedOrNil(in.MedicalNotes))
	}
	if in.Status != nil {
		st := Status(strings.TrimSpace(*in.Status))
		if st != StatusActive && st != StatusInactive {
			return nil, &ValidationError{Field: "status", Message: "must be active or inactive"}
		}
		c.Status = &st
	}
	if c.Empty() {
		return nil, &ValidationError{Message: "no valid fields to update"}
	}

	return s.repo.Update(ctx, id, c)
}

// ArchivePatient soft-deletes a patient. Archiving an already archived
// patient returns ErrNotFound. Chat history is kept.
func (s *Service) ArchivePatient(ctx context.Context, id uuid.UUID) error {
	return s.repo.Archive(ctx, id)
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
	}
	return name, nil
}

func normalizeEmail(raw *string) (*string, error) {
	v := trimmedOrNil(raw)
	if v == nil {
		return nil, nil
	}
	addr, err := mail.ParseAddress(*v)
	if err != nil || addr.Address != *v {
		return nil, &ValidationError{Field: "email", Message: "invalid email address"}
	}
	email := strings.ToLower(addr.Address)
	return &email, nil
}

func normalizePhone(raw *string) (*string, error) {
	v := trimmedOrNil(raw)
	if v != nil && utf8.RuneCountInString(*v) > MaxPhoneLength {
		return nil, &ValidationError{Field: "phone", Message: fmt.Sprintf("must be at most %d characters", MaxPhoneLength)}
	}
	return v, nil
}

func parseDOB(raw string) (time.Time, error) {
	dob, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "dob", Message: "invalid date format (YYYY-MM-DD)"}
	}
	if dob.After(time.Now()) {
		return time.Time{}, &ValidationError{Field: "dob", Message: "must not be in the future"}
	}
	return dob, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// orEmpty maps nil to a pointer to "", which Changes reads as "clear".
func orEmpty(s *string) *string {
	if s == nil {
		empty := ""
		return &empty
	}
	return s
}
