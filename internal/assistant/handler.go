package assistant

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dentaliq/api/internal/platform/generation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/generate", h.Generate)
}

func (h *Handler) Health(c echo.Context) error {
	model := h.svc.Model()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"mock_mode": h.svc.Mock(),
		"model":     model,
	})
}

func (h *Handler) Generate(c echo.Context) error {
	var req generation.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid request body")
	}

	resp, err := h.svc.Generate(c.Request().Context(), req)
	if err != nil {
		var reqErr *RequestError
		var upErr *UpstreamError
		switch {
		case errors.As(err, &reqErr):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, reqErr.Message)
		case errors.As(err, &upErr):
			return echo.NewHTTPError(upErr.Status, upErr.Detail).SetInternal(err)
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
