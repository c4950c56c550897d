package action

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/auth"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/occurrences/:id/take", h.Take)
	api.POST("/occurrences/:id/skip", h.Skip)
	api.POST("/occurrences/:id/snooze", h.Snooze)
	api.POST("/occurrences/:id/undo", h.Undo)
}

// authorize resolves the occurrence's owner and checks write access, since
// every dose action mutates the patient's record.
func (h *Handler) authorize(c echo.Context) (uuid.UUID, string, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, "invalid occurrence id")
	}
	o, err := h.coord.GetOccurrence(c.Request().Context(), id)
	if err != nil {
		return uuid.Nil, "", apperr.ToHTTP(err)
	}
	if err := auth.Authorize(c, o.PatientID, auth.ActionWrite); err != nil {
		return uuid.Nil, "", err
	}

	performedBy := "anonymous"
	if p := auth.PrincipalFromContext(c.Request().Context()); p != nil {
		performedBy = p.Subject
	}
	return id, performedBy, nil
}

func (h *Handler) Take(c echo.Context) error {
	id, performedBy, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req TakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.coord.Take(c.Request().Context(), id, req, performedBy)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

type skipRequest struct {
	Note string `json:"note"`
}

func (h *Handler) Skip(c echo.Context) error {
	id, performedBy, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req skipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.coord.Skip(c.Request().Context(), id, req.Note, performedBy)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Snooze(c echo.Context) error {
	id, performedBy, err := h.authorize(c)
	if err != nil {
		return err
	}
	res, err := h.coord.Snooze(c.Request().Context(), id, performedBy)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Undo(c echo.Context) error {
	id, performedBy, err := h.authorize(c)
	if err != nil {
		return err
	}
	res, err := h.coord.Undo(c.Request().Context(), id, performedBy)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
