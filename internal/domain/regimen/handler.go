package regimen

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/auth"
	"github.com/dosepilot/dosepilot/internal/platform/drugmeta"
	"github.com/dosepilot/dosepilot/pkg/pagination"
)

type Handler struct {
	svc   *Service
	drugs drugmeta.Client
}

func NewHandler(svc *Service, drugs drugmeta.Client) *Handler {
	return &Handler{svc: svc, drugs: drugs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/commands", h.CreateCommand)
	api.GET("/commands", h.ListCommands)
	api.GET("/commands/:id", h.GetCommand)
	api.PUT("/commands/:id", h.UpdateCommand)
	api.POST("/commands/:id/pause", h.PauseCommand)
	api.POST("/commands/:id/resume", h.ResumeCommand)
	api.POST("/commands/:id/discontinue", h.DiscontinueCommand)
	api.GET("/drugs/:code", h.LookupDrug)
}

// LookupDrug proxies the drug-metadata catalog so clients can resolve a code
// to a display name before creating a command.
func (h *Handler) LookupDrug(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "drug code is required")
	}
	meta, err := h.drugs.Lookup(c.Request().Context(), code)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handler) CreateCommand(c echo.Context) error {
	var cmd Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := auth.Authorize(c, cmd.PatientID, auth.ActionWrite); err != nil {
		return err
	}
	if err := h.svc.Create(c.Request().Context(), &cmd); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, cmd)
}

func (h *Handler) GetCommand(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cmd, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if err := auth.Authorize(c, cmd.PatientID, auth.ActionRead); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cmd)
}

func (h *Handler) ListCommands(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id query parameter is required")
	}
	if err := auth.Authorize(c, patientID, auth.ActionRead); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// versionedRequest carries the caller's last-known version for optimistic
// concurrency on lifecycle transitions.
type versionedRequest struct {
	Version int `json:"version"`
}

func (h *Handler) UpdateCommand(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var cmd Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cmd.ID = id
	expected := cmd.Version
	existing, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if err := auth.Authorize(c, existing.PatientID, auth.ActionWrite); err != nil {
		return err
	}
	if err := h.svc.Update(c.Request().Context(), &cmd, expected); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cmd)
}

func (h *Handler) PauseCommand(c echo.Context) error {
	return h.lifecycle(c, h.svc.Pause)
}

func (h *Handler) ResumeCommand(c echo.Context) error {
	return h.lifecycle(c, h.svc.Resume)
}

func (h *Handler) DiscontinueCommand(c echo.Context) error {
	return h.lifecycle(c, h.svc.Discontinue)
}

type lifecycleOp func(ctx context.Context, id uuid.UUID, expectedVersion int) (*Command, error)

func (h *Handler) lifecycle(c echo.Context, op lifecycleOp) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req versionedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	existing, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if err := auth.Authorize(c, existing.PatientID, auth.ActionWrite); err != nil {
		return err
	}
	cmd, err := op(c.Request().Context(), id, req.Version)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cmd)
}
