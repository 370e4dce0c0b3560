package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/transport/httpresp"
	"chat_sync/server/realtime/domain"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type PresenceResponse struct {
	Users map[string]domain.PresenceState `json:"users"`
}

type TypingResponse struct {
	RoomKind domain.RoomKind `json:"roomKind"`
	RoomID   string          `json:"roomId"`
	UserIDs  []string        `json:"userIds"`
}

type UnreadResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, httpresp.ErrInternal
	}
}

func writeError(c *gin.Context, err error) {
	status, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		commonlog.Errorf("event=http action=%s status=failed path=%s error=%v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, httpresp.NewErrorResponse(message))
}

// recoverPanics answers a panicking handler with a plain 500 and logs the
// panic with its stack.
func recoverPanics() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		commonlog.Exceptionf("event=http action=%s status=panic path=%s error=%v", c.Request.Method, c.FullPath(), recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
	})
}
