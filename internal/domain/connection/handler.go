package connection

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/connections", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	g.POST("", h.Initiate)
	g.GET("", h.Query)
	g.PUT("/:id/respond", h.Respond)
	g.POST("/:id/disconnect", h.Disconnect)

	patients := api.Group("/connections", auth.RequireRole(auth.RolePatient))
	patients.DELETE("/assigned", h.DisconnectAssigned)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{ID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

type initiateRequest struct {
	TargetID string `json:"target_id"`
}

func (h *Handler) Initiate(c echo.Context) error {
	var body initiateRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	targetID, err := uuid.Parse(body.TargetID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid target_id")
	}
	req, err := h.svc.Initiate(c.Request().Context(), actorFrom(c), targetID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req.View())
}

type respondRequest struct {
	Action string `json:"action"`
}

func (h *Handler) Respond(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body respondRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var accept bool
	switch body.Action {
	case "accept":
		accept = true
	case "reject":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be accept or reject")
	}

	req, err := h.svc.Respond(c.Request().Context(), actorFrom(c), id, accept)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req.View())
}

func (h *Handler) Disconnect(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.Disconnect(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req.View())
}

func (h *Handler) DisconnectAssigned(c echo.Context) error {
	req, err := h.svc.DisconnectAssigned(c.Request().Context(), actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req.View())
}

func (h *Handler) Query(c echo.Context) error {
	view := QueryView(c.QueryParam("view"))
	if view == "" {
		view = ViewIncoming
	}
	pg := pagination.FromContext(c)
	views, total, err := h.svc.Query(c.Request().Context(), actorFrom(c), view, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, identity.ErrUserNotFound.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, ErrForbidden.Error())
	case errors.Is(err, ErrDoctorNotApproved):
		return echo.NewHTTPError(http.StatusForbidden, ErrDoctorNotApproved.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, ErrInvalidState.Error())
	case errors.Is(err, ErrInvalidTarget):
		return echo.NewHTTPError(http.StatusBadRequest, ErrInvalidTarget.Error())
	case errors.Is(err, ErrDuplicateRequest):
		return echo.NewHTTPError(http.StatusBadRequest, ErrDuplicateRequest.Error())
	case errors.Is(err, ErrInvalidView):
		return echo.NewHTTPError(http.StatusBadRequest, ErrInvalidView.Error())
	case errors.Is(err, ErrTransientStore):
		return echo.NewHTTPError(http.StatusInternalServerError, ErrTransientStore.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
