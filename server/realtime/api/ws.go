package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/middleware"
	"chat_sync/server/common/transport/httpresp"
	"chat_sync/server/realtime/domain"
	"chat_sync/server/realtime/service"
)

type WSConfig struct {
	Conn           service.WSOptions
	AllowedOrigins []string
}

func (cfg WSConfig) upgrader() websocket.Upgrader {
	allowed := map[string]struct{}{}
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if u, err := url.Parse(origin); err == nil {
				if _, ok := allowed[u.Scheme+"://"+u.Host]; ok {
					return true
				}
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleWS authenticates before upgrading, then runs the write pump and the
// sequential read loop for the lifetime of the connection.
func (h *Handler) handleWS(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
		return
	}
	userID, _, err := h.auth.ParseAuthContext(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
		return
	}

	upgrader := h.ws.upgrader()
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=ws action=upgrade status=failed user_id=%s error=%v", userID, err)
		return
	}

	conn := service.NewWSConn(userID, raw, h.ws.Conn)
	go conn.WritePump(h.svc.Gateway.Detach)
	if err := h.svc.Gateway.Attach(conn); err != nil {
		commonlog.Warnf("event=ws action=attach status=failed user_id=%s error=%v", userID, err)
		_ = conn.Close()
		return
	}
	defer h.svc.Gateway.Detach(conn.ID())

	ctx := context.WithoutCancel(c.Request.Context())
	err = conn.ReadLoop(func(env domain.Envelope) {
		h.svc.Gateway.HandleCommand(ctx, conn, env)
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		commonlog.Debugf("event=ws action=read status=closed conn_id=%s user_id=%s error=%v", conn.ID(), userID, err)
	}
}
