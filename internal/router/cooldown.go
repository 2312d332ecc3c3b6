package router

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore implements CooldownStore on top of go-redis. A
// cooling-down target is represented by the presence of a key with a TTL;
// no value is ever read back, so a plain SET with an expiry is enough (a
// repeated mark overwrites the key and restarts its TTL).
type RedisCooldownStore struct {
	client *redis.Client
}

// NewRedisCooldownStore wraps an existing client. Tests can point this at
// a miniredis instance instead of a real server.
func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) IsCoolingDown(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisCooldownStore) MarkCooldown(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}
