package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/rentalwise/messaging/internal/service"
	"github.com/samber/lo"
)

type MessagingHandler struct {
	convSvc service.ConversationService
	msgSvc  service.MessageService
}

func NewMessagingHandler(convSvc service.ConversationService, msgSvc service.MessageService) *MessagingHandler {
	return &MessagingHandler{convSvc: convSvc, msgSvc: msgSvc}
}

type StartConversationRequest struct {
	ListingID uuid.UUID `json:"listingId" validate:"required"`
}

type ConversationResponse struct {
	ID           string              `json:"id"`
	ListingID    *uuid.UUID          `json:"listingId,omitempty"`
	CreatedAtUtc string              `json:"createdAtUtc"`
	IsArchived   bool                `json:"isArchived"`
	Participants []model.Participant `json:"participants"`
}

type MarkReadRequest struct {
	MessageID uuid.UUID `json:"messageId" validate:"required"`
}

type AddParticipantRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	Role   string `json:"role" validate:"required,oneof=landlord tenant admin"`
}

func toConversationResponse(cv *model.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           cv.ID.String(),
		ListingID:    cv.ListingID,
		CreatedAtUtc: cv.CreatedAtUtc.UTC().Format("2006-01-02T15:04:05.000Z"),
		IsArchived:   cv.IsArchived,
		Participants: cv.Participants,
	}
}

// writeServiceError maps the service error taxonomy onto the HTTP
// error envelope.
func writeServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "resource not found"))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not a participant"))
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "request failed"))
	}
}

func callerUID(c echo.Context) (string, bool) {
	uid, _ := c.Get("uid").(string)
	return uid, uid != ""
}

func (h *MessagingHandler) Start(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "listingId is required"))
	}
	cv, err := h.convSvc.StartOrGet(c.Request().Context(), req.ListingID, uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *MessagingHandler) List(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convs, err := h.convSvc.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	resp := lo.Map(convs, func(cv model.Conversation, _ int) ConversationResponse {
		return toConversationResponse(&cv)
	})
	return c.JSON(http.StatusOK, resp)
}

func (h *MessagingHandler) Get(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	cv, err := h.convSvc.Get(c.Request().Context(), convID, uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *MessagingHandler) GetByListing(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	listingID, err := uuid.Parse(c.Param("listingId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid listing id"))
	}
	cv, err := h.convSvc.GetByListing(c.Request().Context(), listingID, uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *MessagingHandler) Archive(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	if err := h.convSvc.Archive(c.Request().Context(), convID, uid); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessagingHandler) AddParticipant(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req AddParticipantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "userId and a valid role are required"))
	}
	if err := h.convSvc.AddParticipant(c.Request().Context(), convID, uid, req.UserID, req.Role); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessagingHandler) Leave(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	if err := h.convSvc.Leave(c.Request().Context(), convID, uid); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessagingHandler) MarkRead(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req MarkReadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "messageId is required"))
	}
	if err := h.convSvc.MarkRead(c.Request().Context(), convID, req.MessageID, uid); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessagingHandler) ListMessages(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var sinceID *uuid.UUID
	if since := c.QueryParam("sinceId"); since != "" {
		parsed, err := uuid.Parse(since)
		if err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid sinceId"))
		}
		sinceID = &parsed
	}
	msgs, err := h.msgSvc.List(c.Request().Context(), convID, uid, sinceID)
	if err != nil {
		return writeServiceError(c, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *MessagingHandler) CreateMessage(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req service.AppendInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	}
	msg, err := h.msgSvc.Append(c.Request().Context(), convID, uid, req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *MessagingHandler) DeleteMessage(c echo.Context) error {
	uid, ok := callerUID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	msgID, err := uuid.Parse(c.Param("msgId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid message id"))
	}
	if err := h.msgSvc.Delete(c.Request().Context(), convID, msgID, uid); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
