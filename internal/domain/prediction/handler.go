package prediction

import (
	"context"
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
	read := api.Group("/predictions", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin))
	read.GET("", h.History)
	read.GET("/summary", h.Summary)

	patients := api.Group("/predictions", auth.RequireRole(auth.RolePatient))
	patients.POST("", h.Save)

	doctors := api.Group("/predictions", auth.RequireRole(auth.RoleDoctor))
	doctors.PUT("/:id/approve", h.Approve)
	doctors.PUT("/:id/cancel", h.Cancel)
	doctors.POST("/:id/feedback", h.AddFeedback)

	api.GET("/doctors/me/dashboard-stats", h.Dashboard, auth.RequireRole(auth.RoleDoctor))
}

func (h *Handler) Save(c echo.Context) error {
	var in SaveInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Save(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(ctx, auth.UserIDFromContext(ctx), c.QueryParam("uin"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := h.svc.Summary(ctx, auth.UserIDFromContext(ctx), c.QueryParam("uin"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	d, err := h.svc.Dashboard(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Approve(c echo.Context) error {
	return h.review(c, h.svc.Approve)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.review(c, h.svc.Cancel)
}

func (h *Handler) review(c echo.Context, fn func(ctx context.Context, actorID, id uuid.UUID) (*Prediction, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := fn(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (h *Handler) AddFeedback(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body feedbackRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	p, err := h.svc.AddFeedback(ctx, auth.UserIDFromContext(ctx), id, body.Feedback)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
