package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/notifications"
	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/response"
)

// NotificationHandler serves the in-app notification inbox and its websocket stream.
type NotificationHandler struct {
	notifications *services.NotificationService
	hub           *notifications.Hub
}

func NewNotificationHandler(svc *services.NotificationService, hub *notifications.Hub) *NotificationHandler {
	return &NotificationHandler{notifications: svc, hub: hub}
}

// GET /api/notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.notifications.List(requestContext(c), userID, services.ListNotificationsOptions{
		UnreadOnly: c.Query("unread") == "true",
		Limit:      parseIntQuery(c, "limit", 50),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	unread, err := h.notifications.UnreadCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"notifications": items,
		"unread_count":  unread,
	})
}

// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.notifications.MarkRead(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	marked, err := h.notifications.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"marked": marked})
}

// DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.notifications.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/notifications/stream
func (h *NotificationHandler) Stream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
