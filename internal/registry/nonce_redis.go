package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vface/pkg/platform/sentinel"
)

const nonceKeyPrefix = "vface:nonce:"

// RedisNonceStore is the distributed nonce store for multi-instance
// deployments: SETNX with TTL gives atomic single-use consumption and free
// garbage collection.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore constructs a Redis-backed nonce store.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, nonceKeyPrefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: consume nonce: %v", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
