package monitor

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
	"github.com/abxguard/abxguard/internal/platform/auth"
)

// Handler exposes the on-demand pass triggers.
type Handler struct {
	mon *Monitor
}

func NewHandler(mon *Monitor) *Handler {
	return &Handler{mon: mon}
}

// RegisterRoutes mounts the trigger endpoints. Operator only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	ops := api.Group("", auth.RequireRole("admin"))
	ops.POST("/monitor/run", h.TriggerRun)
	ops.POST("/monitor/patients/:id/run", h.TriggerPatientRun)
}

// TriggerRun executes one full pass inline and returns its stats.
func (h *Handler) TriggerRun(c echo.Context) error {
	mon := h.mon
	if c.QueryParam("dry_run") == "true" {
		mon = mon.WithDryRun()
	}
	stats, err := mon.RunOnce(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// TriggerPatientRun evaluates a single patient inline.
func (h *Handler) TriggerPatientRun(c echo.Context) error {
	patientID := c.Param("id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}

	mon := h.mon
	if c.QueryParam("dry_run") == "true" {
		mon = mon.WithDryRun()
	}
	stats, err := mon.RunPatient(c.Request().Context(), patientID)
	if err != nil {
		switch {
		case errors.Is(err, patientcontext.ErrPatientNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		case errors.Is(err, patientcontext.ErrSourceUnreachable):
			return echo.NewHTTPError(http.StatusBadGateway, "clinical source unreachable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
