package pause

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis key for the shared pause flag.
const pauseKey = "custodia:paused"

// RedisStore shares the pause flag across replicas. The flag carries no TTL:
// paused means paused until an admin resumes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed pause flag store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		return s.client.Del(ctx, pauseKey).Err()
	}
	// Key existence is the flag; "1" is just a marker.
	return s.client.Set(ctx, pauseKey, "1", 0).Err()
}

func (s *RedisStore) IsPaused(ctx context.Context) (bool, error) {
	_, err := s.client.Get(ctx, pauseKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
