package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "chat_sync/server/common/auth"
	"chat_sync/server/common/metrics"
	"chat_sync/server/common/middleware"
	"chat_sync/server/common/transport/httpresp"
	"chat_sync/server/realtime/domain"
	"chat_sync/server/realtime/service"
)

type Services struct {
	Gateway       *service.Gateway
	Registry      *service.Registry
	Presence      *service.PresenceTracker
	Typing        *service.TypingService
	Messages      *service.MessageService
	Conversations *service.ConversationService
	Friends       *service.FriendService
	Notifications *service.NotificationService
}

type Handler struct {
	svc     Services
	auth    *commonauth.Service
	metrics *metrics.Metrics
	ws      WSConfig
}

func NewHandler(svc Services, auth *commonauth.Service, m *metrics.Metrics, ws WSConfig) *Handler {
	return &Handler{svc: svc, auth: auth, metrics: m, ws: ws}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(recoverPanics())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok", Connections: h.svc.Registry.Count()})
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/presence/online", h.onlineUsers)
		api.GET("/presence", h.presence)

		api.GET("/rooms/:kind/:id/messages", h.listMessages)
		api.POST("/rooms/:kind/:id/messages", h.sendMessage)
		api.GET("/rooms/:kind/:id/typing", h.typingUsers)
		api.POST("/rooms/:kind/:id/typing", h.signalTyping)

		api.PATCH("/messages/:id", h.editMessage)
		api.DELETE("/messages/:id", h.deleteMessage)
		api.POST("/messages/:id/reactions", h.toggleReaction)

		api.GET("/conversations", h.listConversations)
		api.POST("/conversations", h.openConversation)

		api.GET("/friends", h.listFriends)
		api.GET("/friends/search", h.searchFriends)
		api.POST("/friends/requests", h.sendFriendRequest)
		api.GET("/friends/requests/pending", h.pendingFriendRequests)
		api.GET("/friends/requests/sent", h.sentFriendRequests)
		api.PATCH("/friends/requests/:id/accept", h.acceptFriendRequest)
		api.PATCH("/friends/requests/:id/reject", h.rejectFriendRequest)
		api.DELETE("/friends/requests/:id", h.cancelFriendRequest)

		api.GET("/notifications", h.listNotifications)
		api.GET("/notifications/count", h.notificationCount)
		api.PATCH("/notifications/read-all", h.markAllNotificationsRead)
		api.PATCH("/notifications/:id/read", h.markNotificationRead)
		api.DELETE("/notifications/:id", h.deleteNotification)
	}
}

func (h *Handler) onlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Presence.Snapshot())
}

func (h *Handler) presence(c *gin.Context) {
	userIDs := strings.Split(c.Query("userIds"), ",")
	states, err := h.svc.Presence.Lookup(c.Request.Context(), userIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PresenceResponse{Users: states})
}

func (h *Handler) listMessages(c *gin.Context) {
	actorID, room, ok := actorAndRoom(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	page, err := h.svc.Messages.List(c.Request.Context(), actorID, room, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(page.Items, page.NextCursor))
}

func (h *Handler) sendMessage(c *gin.Context) {
	actorID, room, ok := actorAndRoom(c)
	if !ok {
		return
	}
	var req struct {
		Content     string `json:"content"`
		FileURL     string `json:"fileUrl"`
		ClientMsgID string `json:"clientMsgId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.svc.Messages.Send(c.Request.Context(), actorID, service.SendMessageInput{
		Room:        room,
		Content:     req.Content,
		FileURL:     req.FileURL,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) typingUsers(c *gin.Context) {
	actorID, room, ok := actorAndRoom(c)
	if !ok {
		return
	}
	users, err := h.svc.Typing.Typing(c.Request.Context(), actorID, room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TypingResponse{RoomKind: room.Kind, RoomID: room.ID, UserIDs: users})
}

func (h *Handler) signalTyping(c *gin.Context) {
	actorID, room, ok := actorAndRoom(c)
	if !ok {
		return
	}
	if err := h.svc.Typing.Signal(c.Request.Context(), actorID, room); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) editMessage(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.svc.Messages.Edit(c.Request.Context(), actorID, c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	msg, err := h.svc.Messages.Delete(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) toggleReaction(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.svc.Messages.ToggleReaction(c.Request.Context(), actorID, c.Param("id"), req.Emoji)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) listConversations(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	items, err := h.svc.Conversations.List(c.Request.Context(), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, ""))
}

func (h *Handler) openConversation(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	conv, err := h.svc.Conversations.GetOrCreate(c.Request.Context(), actorID, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) listFriends(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	items, err := h.svc.Friends.Friends(c.Request.Context(), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, ""))
}

func (h *Handler) searchFriends(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.svc.Friends.Search(c.Request.Context(), actorID, c.Query("query"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, ""))
}

func (h *Handler) sendFriendRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	var req struct {
		RecipientID string `json:"recipientId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	fr, err := h.svc.Friends.Send(c.Request.Context(), actorID, req.RecipientID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fr)
}

func (h *Handler) pendingFriendRequests(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	items, err := h.svc.Friends.Pending(c.Request.Context(), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, ""))
}

func (h *Handler) sentFriendRequests(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	items, err := h.svc.Friends.Sent(c.Request.Context(), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, ""))
}

func (h *Handler) acceptFriendRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	fr, err := h.svc.Friends.Accept(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *Handler) rejectFriendRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	fr, err := h.svc.Friends.Reject(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *Handler) cancelFriendRequest(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.svc.Friends.Cancel(c.Request.Context(), actorID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) listNotifications(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	page, err := h.svc.Notifications.List(c.Request.Context(), actorID, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(page.Items, page.NextCursor))
}

func (h *Handler) notificationCount(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	count, err := h.svc.Notifications.UnreadCount(c.Request.Context(), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewCountResponse(count))
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	unread, err := h.svc.Notifications.MarkRead(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UnreadResponse{UnreadCount: unread})
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.svc.Notifications.MarkAllRead(c.Request.Context(), actorID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UnreadResponse{UnreadCount: 0})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	unread, err := h.svc.Notifications.Delete(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UnreadResponse{UnreadCount: unread})
}

func requireActor(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return "", false
	}
	return userID, true
}

func actorAndRoom(c *gin.Context) (string, domain.Room, bool) {
	actorID, ok := requireActor(c)
	if !ok {
		return "", domain.Room{}, false
	}
	room, err := domain.ParseRoom(c.Param("kind"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return "", domain.Room{}, false
	}
	return actorID, room, true
}
