package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the unauthenticated auth endpoints on public and
// everything else on api, which must already carry the JWT middleware.
// loginLimit, if non-nil, throttles POST /auth/login.
func (h *Handler) RegisterRoutes(public, api *echo.Group, loginLimit echo.MiddlewareFunc) {
	public.POST("/auth/register", h.Register)
	if loginLimit != nil {
		public.POST("/auth/login", h.Login, loginLimit)
	} else {
		public.POST("/auth/login", h.Login)
	}

	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.PUT("/auth/profile", h.UpdateProfile)

	patients := api.Group("", auth.RequireRole(auth.RolePatient))
	patients.GET("/patients/me/doctor", h.AssignedDoctor)
	patients.GET("/doctors", h.ApprovedDoctors)

	doctors := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.GET("/doctors/me/patients", h.Patients)
	doctors.GET("/patients/unassigned", h.UnassignedPatients)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, auth.TokenIDFromContext(ctx), auth.TokenExpiryFromContext(ctx)); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "logout temporarily unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.Me(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateProfile(ctx, auth.UserIDFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) AssignedDoctor(c echo.Context) error {
	ctx := c.Request().Context()
	doctor, err := h.svc.AssignedDoctor(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doctor.Summary())
}

func (h *Handler) ApprovedDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ApprovedDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(Summaries(doctors), total, pg.Limit, pg.Offset))
}

func (h *Handler) Patients(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.Patients(ctx, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(Summaries(patients), total, pg.Limit, pg.Offset))
}

func (h *Handler) UnassignedPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.UnassignedPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(Summaries(patients), total, pg.Limit, pg.Offset))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUINTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNoAssignedDoctor):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotDoctor), errors.Is(err, ErrNotPatient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
