package adherence

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/auth"
)

const defaultReportDays = 30

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/adherence", h.Report)
}

// Report serves GET /patients/:id/adherence?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both dates are inclusive; the default window is the last 30 days.
func (h *Handler) Report(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := auth.Authorize(c, patientID, auth.ActionRead); err != nil {
		return err
	}

	to := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	if raw := c.QueryParam("to"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = d.AddDate(0, 0, 1)
	}
	from := to.AddDate(0, 0, -defaultReportDays)
	if raw := c.QueryParam("from"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = d
	}
	if !from.Before(to) {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be before to")
	}

	report, err := h.svc.Report(c.Request().Context(), patientID, from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}
