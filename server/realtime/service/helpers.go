package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

type directory interface {
	FindUser(ctx context.Context, userID string) (domain.User, error)
	FindMembership(ctx context.Context, userID, serverID string) (domain.Member, error)
	ChannelServer(ctx context.Context, channelID string) (string, error)
	RoomMembers(ctx context.Context, room domain.Room) ([]string, error)
	IsRoomMember(ctx context.Context, room domain.Room, userID string) (bool, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// publishEvent forwards a domain event to the bus; failures are logged only.
func publishEvent(ctx context.Context, pub eventPublisher, key string, payload any) {
	if pub == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := pub.Publish(pubCtx, key, payload); err != nil {
		commonlog.Warnf("event=event_bus action=publish status=failed key=%s error=%v", key, err)
	}
}

func dedupeAndTrim(items []string) []string {
	result := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func preview(body string, max int) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	runes := []rune(body)
	return string(runes[:max]) + "…"
}
