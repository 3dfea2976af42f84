package reviewqueue

import (
	"errors"
	"net/http"

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
	readGroup.GET("/review-alerts", h.ListReviewAlerts)

	// Write endpoints – pharmacist, admin
	writeGroup := api.Group("", auth.RequireRole("pharmacist", "admin"))
	writeGroup.POST("/review-alerts/:id/review", h.ReviewAlertDecision)
}

func (h *Handler) ListReviewAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Module:   c.QueryParam("module"),
		Severity: c.QueryParam("severity"),
		Status:   c.QueryParam("status"),
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type reviewRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ReviewAlertDecision(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	performer := auth.PerformerFromContext(c.Request().Context())

	a, err := h.svc.Review(c.Request().Context(), id, performer, Status(req.Status))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "review alert not found")
	case errors.Is(err, ErrAlreadyReviewed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
