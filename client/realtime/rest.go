package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat_sync/server/common/transport/httpresp"
	"chat_sync/server/realtime/domain"
)

const apiPrefix = "/api/v1"

// RESTClient calls the server API, rotating over the configured endpoints and
// skipping an endpoint for a cooldown period after repeated failures.
type RESTClient struct {
	endpoints []string
	token     string
	http      *http.Client
	next      uint32

	failThreshold    int
	endpointCooldown time.Duration

	mu         sync.Mutex
	failureCnt map[string]int
	cooldownTo map[string]time.Time
}

func NewRESTClient(cfg Config) *RESTClient {
	cfg = cfg.withDefaults()
	return &RESTClient{
		endpoints:        cfg.Endpoints,
		token:            cfg.Token,
		http:             &http.Client{Timeout: cfg.RequestTimeout},
		failThreshold:    cfg.FailThreshold,
		endpointCooldown: cfg.EndpointCooldown,
		failureCnt:       make(map[string]int, len(cfg.Endpoints)),
		cooldownTo:       make(map[string]time.Time, len(cfg.Endpoints)),
	}
}

func (c *RESTClient) ListMessages(ctx context.Context, room domain.Room, cursor string, limit int) (domain.MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page domain.MessagePage
	err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/rooms/%s/%s/messages", room.Kind, url.PathEscape(room.ID)), q, nil, &page)
	return page, err
}

func (c *RESTClient) ListNotifications(ctx context.Context, cursor string, limit int) (domain.NotificationPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page domain.NotificationPage
	err := c.Do(ctx, http.MethodGet, "/notifications", q, nil, &page)
	return page, err
}

func (c *RESTClient) UnreadCount(ctx context.Context) (int64, error) {
	var out httpresp.CountResponse
	if err := c.Do(ctx, http.MethodGet, "/notifications/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *RESTClient) PendingFriendRequests(ctx context.Context) ([]domain.FriendRequestView, error) {
	var out httpresp.PaginatedResponse[domain.FriendRequestView]
	if err := c.Do(ctx, http.MethodGet, "/friends/requests/pending", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *RESTClient) OnlineUsers(ctx context.Context) (domain.PresenceSnapshot, error) {
	var out domain.PresenceSnapshot
	err := c.Do(ctx, http.MethodGet, "/presence/online", nil, nil, &out)
	return out, err
}

func (c *RESTClient) SignalTyping(ctx context.Context, room domain.Room) error {
	var out httpresp.OKResponse
	return c.Do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%s/%s/typing", room.Kind, url.PathEscape(room.ID)), nil, struct{}{}, &out)
}

func (c *RESTClient) ToggleReaction(ctx context.Context, messageID, emoji string) (domain.Message, error) {
	var out domain.Message
	payload := struct {
		Emoji string `json:"emoji"`
	}{Emoji: emoji}
	err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/messages/%s/reactions", url.PathEscape(messageID)), nil, payload, &out)
	return out, err
}

// Do sends one API request. Server errors and network failures move on to the
// next endpoint; client errors are returned as domain errors.
func (c *RESTClient) Do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoint configured", domain.ErrTransport)
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = encoded
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, time.Now()) {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint+target, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: request failed endpoint=%s: %v", domain.ErrTransport, endpoint, err)
			c.onFailure(endpoint, time.Now())
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d endpoint=%s", domain.ErrTransport, resp.StatusCode, endpoint)
			c.onFailure(endpoint, time.Now())
			continue
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			err := statusError(resp)
			_ = resp.Body.Close()
			c.onSuccess(endpoint)
			return err
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			c.onFailure(endpoint, time.Now())
			return err
		}
		c.onSuccess(endpoint)
		return nil
	}

	if lastErr == nil {
		return fmt.Errorf("%w: every endpoint is cooling down", domain.ErrTransport)
	}
	return lastErr
}

func statusError(resp *http.Response) error {
	var body httpresp.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	message := body.Error
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrAuthentication, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthorization, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, message)
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, message)
	}
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func (c *RESTClient) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownTo[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.cooldownTo, endpoint)
		return false
	}
	return true
}

func (c *RESTClient) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failureCnt[endpoint] + 1
	c.failureCnt[endpoint] = count
	if count >= c.failThreshold {
		c.cooldownTo[endpoint] = now.Add(c.endpointCooldown)
		c.failureCnt[endpoint] = 0
	}
}

func (c *RESTClient) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt[endpoint] = 0
	delete(c.cooldownTo, endpoint)
}
