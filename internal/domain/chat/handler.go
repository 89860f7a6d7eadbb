package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/auth"
	"github.com/cardiocare/cardiocare/internal/platform/blobstore"
	"github.com/cardiocare/cardiocare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat")
	g.POST("", h.Send)
	g.GET("/attachments/:blobId", h.Attachment)
	g.GET("/:userId", h.Conversation)
	g.PUT("/:userId/read", h.MarkRead)
}

type sendRequest struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
}

// Send accepts JSON or a multipart form with receiver_id, body and an
// optional file part.
func (h *Handler) Send(c echo.Context) error {
	var (
		body sendRequest
		in   SendInput
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		body.ReceiverID = c.FormValue("receiver_id")
		body.Body = c.FormValue("body")
		fh, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
		default:
			if fh.Size > blobstore.MaxFileSize {
				return echo.NewHTTPError(http.StatusBadRequest, blobstore.ErrFileTooLarge.Error())
			}
			f, err := fh.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
			}
			defer f.Close()
			in.File = &Upload{Name: fh.Filename, ContentType: fh.Header.Get(echo.HeaderContentType), Content: f}
		}
	} else if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	receiverID, err := uuid.Parse(body.ReceiverID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid receiver_id")
	}
	in.ReceiverID = receiverID
	in.Body = body.Body

	ctx := c.Request().Context()
	msg, err := h.svc.Send(ctx, auth.UserIDFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) Conversation(c echo.Context) error {
	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.Conversation(ctx, auth.UserIDFromContext(ctx), otherID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.MarkRead(ctx, auth.UserIDFromContext(ctx), otherID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}

func (h *Handler) Attachment(c echo.Context) error {
	ctx := c.Request().Context()
	rc, att, err := h.svc.Attachment(ctx, auth.UserIDFromContext(ctx), c.Param("blobId"))
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", att.Name))
	return c.Stream(http.StatusOK, att.ContentType, rc)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
