package dosealert

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/abxguard/abxguard/internal/platform/auth"
	"github.com/abxguard/abxguard/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – pharmacist, physician, infection prevention, admin
	readGroup := api.Group("", auth.RequireRole("pharmacist", "physician", "ip", "admin"))
	readGroup.GET("/dose-alerts", h.ListDoseAlerts)
	readGroup.GET("/dose-alerts/analytics", h.GetAnalytics)
	readGroup.GET("/dose-alerts/:id", h.GetDoseAlert)
	readGroup.GET("/dose-alerts/:id/audit", h.GetAuditTrail)
	readGroup.GET("/patients/:mrn/dose-alerts", h.ListPatientDoseAlerts)

	// Write endpoints – pharmacist, admin
	writeGroup := api.Group("", auth.RequireRole("pharmacist", "admin"))
	writeGroup.POST("/dose-alerts/:id/acknowledge", h.AcknowledgeDoseAlert)
	writeGroup.POST("/dose-alerts/:id/resolve", h.ResolveDoseAlert)
	writeGroup.POST("/dose-alerts/:id/notes", h.AddDoseAlertNote)
}

// alertError maps service errors onto HTTP status codes: unknown ids are
// 404, lifecycle violations 409, anything else a bad request.
func alertError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "dose alert not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) ListDoseAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Severity:   c.QueryParam("severity"),
		FlagType:   c.QueryParam("flag_type"),
		Drug:       c.QueryParam("drug"),
		PatientMRN: c.QueryParam("patient_mrn"),
	}

	var (
		items []*Record
		total int
		err   error
	)
	if c.QueryParam("status") == string(StatusResolved) {
		items, total, err = h.svc.ListResolved(c.Request().Context(), f, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListActive(c.Request().Context(), f, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDoseAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "dose alert not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.svc.History(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "dose alert not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetAnalytics(c echo.Context) error {
	windowDays, _ := strconv.Atoi(c.QueryParam("window_days"))
	a, err := h.svc.Analytics(c.Request().Context(), windowDays)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListPatientDoseAlerts(c echo.Context) error {
	mrn := c.Param("mrn")
	if mrn == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mrn is required")
	}
	recs, err := h.svc.ListByPatient(c.Request().Context(), mrn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) AcknowledgeDoseAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	performer := auth.PerformerFromContext(c.Request().Context())
	rec, err := h.svc.Acknowledge(c.Request().Context(), id, performer)
	if err != nil {
		return alertError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type resolveRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *Handler) ResolveDoseAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	performer := auth.PerformerFromContext(c.Request().Context())
	rec, err := h.svc.Resolve(c.Request().Context(), id, performer, req.Reason, req.Notes)
	if err != nil {
		return alertError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddDoseAlertNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	performer := auth.PerformerFromContext(c.Request().Context())
	rec, err := h.svc.AddNote(c.Request().Context(), id, performer, req.Text)
	if err != nil {
		return alertError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
