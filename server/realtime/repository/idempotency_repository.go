package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type IdempotencyRepository struct {
	redis *redis.Client
}

func NewIdempotencyRepository(client *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{redis: client}
}

// Claim reports whether key was free and is now held for ttl.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.redis.SetNX(ctx, key, "1", ttl).Result()
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}
