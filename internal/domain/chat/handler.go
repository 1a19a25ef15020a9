package chat

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentaliq/api/internal/platform/auth"
	"github.com/dentaliq/api/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the chat endpoints. sendLimit, when non-nil, guards
// POST /chat only.
func (h *Handler) RegisterRoutes(api *echo.Group, sendLimit echo.MiddlewareFunc) {
	api.GET("/chat/:patientId", h.GetHistory)
	if sendLimit != nil {
		api.POST("/chat", h.SendMessage, sendLimit)
	} else {
		api.POST("/chat", h.SendMessage)
	}
}

type sendRequest struct {
	PatientID string `json:"patientId"`
	Message   string `json:"message"`
}

func (h *Handler) GetHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid patient ID")
	}
	turns, err := h.svc.GetHistory(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": turns})
}

func (h *Handler) SendMessage(c echo.Context) error {
	staffID, ok := auth.StaffIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Valid patientId UUID required")
	}
	c.Set(middleware.AuditPatientKey, patientID.String())

	ex, err := h.svc.SendMessage(c.Request().Context(), patientID, staffID, req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ex)
}

func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Message)
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
