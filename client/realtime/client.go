// Package realtime is the client side of the push channel: it keeps a live
// websocket when it can, polls the REST API when it cannot, and funnels both
// into the same caches.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"chat_sync/client/cache"
	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
	"chat_sync/server/realtime/typing"
)

type Client struct {
	cfg      Config
	rest     *RESTClient
	dialer   *websocket.Dialer
	presence *PresenceMap
	inbox    *Inbox
	typing   *typing.Tracker

	mu        sync.RWMutex
	timelines map[string]*cache.Timeline

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	dials     atomic.Uint32
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: at least one endpoint is required", domain.ErrInvalidArgument)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrAuthentication)
	}
	return &Client{
		cfg:       cfg,
		rest:      NewRESTClient(cfg),
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		presence:  NewPresenceMap(),
		inbox:     NewInbox(),
		typing:    typing.NewTracker(cfg.TypingTTL, nil),
		timelines: map[string]*cache.Timeline{},
	}, nil
}

func (c *Client) REST() *RESTClient      { return c.rest }
func (c *Client) Presence() *PresenceMap { return c.presence }
func (c *Client) Inbox() *Inbox          { return c.inbox }
func (c *Client) Connected() bool        { return c.connected.Load() }

func (c *Client) Typing(room domain.Room) []string {
	return c.typing.Typing(room)
}

// Timeline returns the cache for room, creating an empty one on first use.
func (c *Client) Timeline(room domain.Room) *cache.Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[room.Key()]
	if !ok {
		tl = cache.NewTimeline(room)
		c.timelines[room.Key()] = tl
	}
	return tl
}

func (c *Client) lookup(room domain.Room) *cache.Timeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timelines[room.Key()]
}

func (c *Client) openTimelines() []*cache.Timeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*cache.Timeline, 0, len(c.timelines))
	for _, tl := range c.timelines {
		out = append(out, tl)
	}
	return out
}

// Open starts tracking room and loads its newest page.
func (c *Client) Open(ctx context.Context, room domain.Room) (*cache.Timeline, error) {
	tl := c.Timeline(room)
	if tl.Loaded() {
		return tl, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	page, err := c.rest.ListMessages(reqCtx, room, "", 0)
	if err != nil {
		return tl, err
	}
	tl.ApplyPage(page)
	return tl, nil
}

// LoadOlder backfills the next page of room and reports whether one was
// fetched. A gap left by an interrupted poll is filled before the tail.
func (c *Client) LoadOlder(ctx context.Context, room domain.Room) (bool, error) {
	tl := c.Timeline(room)
	if cursor, ok := tl.Gap(); ok {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		page, err := c.rest.ListMessages(reqCtx, room, cursor, 0)
		if err != nil {
			return false, err
		}
		tl.FillGap(page)
		return true, nil
	}
	cursor, more := tl.Cursor()
	if tl.Loaded() && !more {
		return false, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	page, err := c.rest.ListMessages(reqCtx, room, cursor, 0)
	if err != nil {
		return false, err
	}
	tl.ApplyPage(page)
	return true, nil
}

// ToggleReaction shows the toggle in the cached timeline at once, then
// replaces it with the server's copy or reverts it when the request fails.
func (c *Client) ToggleReaction(ctx context.Context, room domain.Room, messageID, emoji string) error {
	if c.cfg.UserID == "" {
		return fmt.Errorf("%w: user id is required to react", domain.ErrInvalidArgument)
	}
	tl := c.Timeline(room)
	tag := domain.ReactionTag(emoji, c.cfg.UserID)
	_, shown := tl.ToggleReaction(messageID, tag)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	msg, err := c.rest.ToggleReaction(reqCtx, messageID, emoji)
	if err != nil {
		if shown {
			tl.ToggleReaction(messageID, tag)
		}
		return err
	}
	tl.ApplyUpdated(msg)
	return nil
}

// SignalTyping uses the live channel when there is one and REST otherwise.
func (c *Client) SignalTyping(ctx context.Context, room domain.Room) error {
	if c.Connected() {
		if err := c.write(domain.Event{Type: domain.CommandTypingStart, Payload: room}); err == nil {
			return nil
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.rest.SignalTyping(reqCtx, room)
}

// Run keeps the push channel up and polls while it is down. It returns when
// ctx is cancelled; running out of reconnect attempts leaves polling active.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.pollLoop(gctx)
		return nil
	})
	g.Go(func() error {
		c.connectLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (c *Client) Close() {
	c.typing.Stop()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) connectLoop(ctx context.Context) {
	failures := 0
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			failures = 0
		}
		failures++
		if failures > c.cfg.MaxReconnectAttempts {
			commonlog.Warnf("event=realtime_client action=reconnect status=gave_up attempts=%d error=%v", failures-1, err)
			return
		}
		delay := c.backoff(failures)
		commonlog.Infof("event=realtime_client action=reconnect status=scheduled attempt=%d delay=%s error=%v", failures, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// backoff doubles from ReconnectBase up to ReconnectMax and spreads the result
// by the jitter fraction.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectMax
	if attempt < 32 {
		if step := c.cfg.ReconnectBase << (attempt - 1); step > 0 && step < d {
			d = step
		}
	}
	if c.cfg.Jitter > 0 {
		spread := float64(d) * c.cfg.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}

// session dials one connection and reads from it until it drops. The bool
// reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (bool, error) {
	target, err := c.wsURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, target, header)
	cancel()
	if err != nil {
		return false, fmt.Errorf("%w: dial %s: %v", domain.ErrTransport, target, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.connected.Store(false)
		c.writeMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.writeMu.Unlock()
		_ = conn.Close()
	}()

	commonlog.Infof("event=realtime_client action=connect status=ok url=%s", target)
	_ = c.write(domain.Event{Type: domain.CommandRequestPresenceSnapshot})
	go c.resync(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			commonlog.Warnf("event=realtime_client action=decode status=failed error=%v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) wsURL() (string, error) {
	n := int(c.dials.Add(1)-1) % len(c.cfg.Endpoints)
	u, err := url.Parse(c.cfg.Endpoints[n])
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Client) write(ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrTransport)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Connected() {
				c.pollOnce(ctx)
			}
		}
	}
}

// resync runs one poll right after a (re)connect so that events missed while
// disconnected are backfilled.
func (c *Client) resync(ctx context.Context) {
	c.pollOnce(ctx)
}

func (c *Client) pollOnce(ctx context.Context) {
	for _, tl := range c.openTimelines() {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		page, err := c.rest.ListMessages(reqCtx, tl.Room(), "", 0)
		cancel()
		if err != nil {
			commonlog.Debugf("event=realtime_client action=poll_messages status=failed room=%s error=%v", tl.Room().Key(), err)
			continue
		}
		tl.MergeLatest(page)
		c.fillGaps(ctx, tl)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if page, err := c.rest.ListNotifications(reqCtx, "", 0); err == nil {
		c.inbox.MergeNotifications(page)
	} else {
		commonlog.Debugf("event=realtime_client action=poll_notifications status=failed error=%v", err)
	}
	if count, err := c.rest.UnreadCount(reqCtx); err == nil {
		c.inbox.SetUnread(count)
	}
	if pending, err := c.rest.PendingFriendRequests(reqCtx); err == nil {
		c.inbox.ReplacePending(pending)
	}
	if snapshot, err := c.rest.OnlineUsers(reqCtx); err == nil {
		c.presence.ApplySnapshot(snapshot)
	}
}

// fillGaps walks older pages until the history missed while disconnected
// joins what the timeline already held. A failure leaves the gap for the next
// poll or LoadOlder.
func (c *Client) fillGaps(ctx context.Context, tl *cache.Timeline) {
	for {
		cursor, ok := tl.Gap()
		if !ok || ctx.Err() != nil {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		page, err := c.rest.ListMessages(reqCtx, tl.Room(), cursor, 0)
		cancel()
		if err != nil {
			commonlog.Debugf("event=realtime_client action=fill_gap status=failed room=%s cursor=%s error=%v", tl.Room().Key(), cursor, err)
			return
		}
		tl.FillGap(page)
	}
}

// dispatch applies one pushed event. Events for rooms the client has not
// opened are dropped; opening the room later backfills them.
func (c *Client) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.EventPresenceSnapshot:
		var p domain.PresenceSnapshot
		if decode(env, &p) {
			c.presence.ApplySnapshot(p)
		}
	case domain.EventPresenceDelta:
		var p domain.PresenceDelta
		if decode(env, &p) {
			c.presence.ApplyDelta(p)
		}
	case domain.EventMessageCreated:
		var p domain.MessagePayload
		if decode(env, &p) {
			c.typing.Clear(p.Message.AuthorID, p.Message.Room())
			if tl := c.lookup(p.Message.Room()); tl != nil {
				tl.ApplyCreated(p.Message)
			}
		}
	case domain.EventMessageUpdated:
		var p domain.MessagePayload
		if decode(env, &p) {
			if tl := c.lookup(p.Message.Room()); tl != nil {
				tl.ApplyUpdated(p.Message)
			}
		}
	case domain.EventMessageDeleted:
		var p domain.MessageDeletedPayload
		if decode(env, &p) {
			if tl := c.lookup(domain.Room{Kind: p.RoomKind, ID: p.RoomID}); tl != nil {
				tl.ApplyDeleted(p.MessageID)
			}
		}
	case domain.EventTypingStarted:
		var p domain.TypingPayload
		if decode(env, &p) {
			c.typing.Touch(p.UserID, domain.Room{Kind: p.RoomKind, ID: p.RoomID})
		}
	case domain.EventTypingStopped:
		var p domain.TypingPayload
		if decode(env, &p) {
			c.typing.Clear(p.UserID, domain.Room{Kind: p.RoomKind, ID: p.RoomID})
		}
	case domain.EventFriendRequestReceived:
		var p domain.FriendRequestReceivedPayload
		if decode(env, &p) {
			c.inbox.ApplyFriendRequest(p)
		}
	case domain.EventFriendRequestAccepted:
		var p domain.FriendRequestAcceptedPayload
		if decode(env, &p) {
			c.inbox.ApplyFriendRequestAccepted(p)
		}
	case domain.EventNewNotification:
		var p domain.NewNotificationPayload
		if decode(env, &p) {
			c.inbox.ApplyNotification(p)
		}
	case domain.EventError:
		var p domain.ErrorPayload
		if decode(env, &p) {
			commonlog.Warnf("event=realtime_client action=server_error error=%s", p.Error)
		}
	case domain.EventSessionConnected, domain.EventPong:
	default:
		commonlog.Debugf("event=realtime_client action=dispatch status=ignored kind=%s", env.Type)
	}
}

func decode(env domain.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		commonlog.Warnf("event=realtime_client action=decode status=failed kind=%s error=%v", env.Type, err)
		return false
	}
	return true
}
