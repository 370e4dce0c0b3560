package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSeenKey = "realtime:presence:last_seen"

// PresenceRepository persists last-seen timestamps in a Redis hash so they
// outlive the process that observed the disconnect.
type PresenceRepository struct {
	redis *redis.Client
}

func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{redis: client}
}

func (r *PresenceRepository) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	return r.redis.HSet(ctx, lastSeenKey, userID, strconv.FormatInt(at.UnixMilli(), 10)).Err()
}

func (r *PresenceRepository) LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	values, err := r.redis.HMGet(ctx, lastSeenKey, userIDs...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[userIDs[i]] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}
