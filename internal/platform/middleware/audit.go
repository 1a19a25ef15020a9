package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentaliq/api/internal/platform/auth"
)

// AuditPatientKey is the echo context key a handler sets when the patient a
// request touches is only known from the request body.
const AuditPatientKey = "audit_patient_id"

// AuditEntry records who touched which patient's data, and how.
type AuditEntry struct {
	UserID     string
	UserEmail  string
	UserRoles  []string
	Resource   string
	PatientID  string
	Action     string
	IPAddress  string
	Path       string
	Method     string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit emits one structured "patient_data_access" log line for every
// request under /api/v1/.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			status := entry.StatusCode
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("user_email", entry.UserEmail).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", status).
				Msg("patient_data_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	rid, _ := c.Get("request_id").(string)

	return AuditEntry{
		UserID:     auth.UserIDFromContext(ctx),
		UserEmail:  auth.EmailFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   auditResource(req.URL.Path),
		PatientID:  auditPatientID(c),
		Action:     httpMethodToAction(req.Method),
		IPAddress:  c.RealIP(),
		Path:       req.URL.Path,
		Method:     req.Method,
		RequestID:  rid,
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// auditResource returns the first segment after /api/v1/, e.g. "patients"
// or "chat".
func auditResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// auditPatientID finds the patient id in /api/v1/patients/<id>,
// /api/v1/chat/<id>, or the value a handler stored under AuditPatientKey.
func auditPatientID(c echo.Context) string {
	if id, ok := c.Get(AuditPatientKey).(string); ok && id != "" {
		return id
	}

	rest := strings.TrimPrefix(c.Request().URL.Path, "/api/v1/")
	resource, tail, found := strings.Cut(rest, "/")
	if !found || (resource != "patients" && resource != "chat") {
		return ""
	}
	id, _, _ := strings.Cut(tail, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
