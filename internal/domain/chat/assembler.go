package chat

import (
	"strings"

	"github.com/dentaliq/api/internal/platform/generation"
)

// RenderPatientContext renders the present fields of pc, one per line, in
// the order name, date of birth, medical notes. Empty fields produce no line.
func RenderPatientContext(pc PatientContext) string {
	lines := make([]string, 0, 3)
	if pc.Name != nil && strings.TrimSpace(*pc.Name) != "" {
		lines = append(lines, "Patient name: "+*pc.Name)
	}
	if pc.DateOfBirth != nil && !pc.DateOfBirth.IsZero() {
		lines = append(lines, "Date of birth: "+pc.DateOfBirth.Format("2006-01-02"))
	}
	if pc.MedicalNotes != nil && strings.TrimSpace(*pc.MedicalNotes) != "" {
		lines = append(lines, "Medical notes: "+*pc.MedicalNotes)
	}
	return strings.Join(lines, "\n")
}

// Assemble builds the generation request for message. history must already
// be oldest first; its order is kept.
func Assemble(message string, pc PatientContext, history []*Turn) generation.Request {
	items := make([]generation.HistoryItem, 0, len(history))
	for _, t := range history {
		items = append(items, generation.HistoryItem{
			Role:    wireRole(t.Role()),
			Content: t.Content,
		})
	}
	return generation.Request{
		Message:        message,
		PatientContext: RenderPatientContext(pc),
		History:        items,
	}
}

// wireRole maps a turn role to the generation service's vocabulary.
func wireRole(r Role) string {
	if r == RoleHuman {
		return "user"
	}
	return "assistant"
}
