package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

type WSOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o WSOptions) withDefaults() WSOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	return o
}

func (o WSOptions) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// WSConn owns a gorilla connection. Frames are queued on a buffered channel and
// written by a single pump goroutine, so Send never blocks the caller.
type WSConn struct {
	id       string
	userID   string
	openedAt time.Time
	conn     *websocket.Conn
	opts     WSOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewWSConn(userID string, conn *websocket.Conn, opts WSOptions) *WSConn {
	opts = opts.withDefaults()
	return &WSConn{
		id:       uuid.NewString(),
		userID:   userID,
		openedAt: time.Now(),
		conn:     conn,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *WSConn) ID() string          { return c.id }
func (c *WSConn) UserID() string      { return c.userID }
func (c *WSConn) OpenedAt() time.Time { return c.openedAt }

func (c *WSConn) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: connection %s is closed", domain.ErrTransport, c.id)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full for connection %s", domain.ErrTransport, c.id)
	}
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// WritePump drains the send queue until the connection is closed or a write
// fails. onDead runs once when the pump exits because of a transport error.
func (c *WSConn) WritePump(onDead func(connID string)) {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				commonlog.Warnf("event=ws_conn action=write status=failed conn_id=%s user_id=%s error=%v", c.id, c.userID, err)
				onDead(c.id)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				onDead(c.id)
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSConn) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// ReadLoop delivers inbound frames to handle one at a time until the peer
// goes away.
func (c *WSConn) ReadLoop(handle func(domain.Envelope)) error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			env = domain.Envelope{}
		}
		handle(env)
	}
}
