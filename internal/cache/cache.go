package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RevocationHints is a positive-only cache of revoked credential hashes.
// A miss carries no meaning; callers must consult the system of record.
// Implementations must be safe for concurrent use.
type RevocationHints interface {
	MarkRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string, ttl time.Duration) error
	IsMarkedRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string) (bool, error)
	Ping(ctx context.Context) error
}

// RedisCache implements RevocationHints using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MarkRevoked stores a marker that lives until the credential would have
// expired anyway. Non-positive ttls are ignored.
func (c *RedisCache) MarkRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, RevocationKey(tenantID, kind, tokenHash), "1", ttl).Err()
}

func (c *RedisCache) IsMarkedRevoked(ctx context.Context, tenantID uuid.UUID, kind, tokenHash string) (bool, error) {
	err := c.client.Get(ctx, RevocationKey(tenantID, kind, tokenHash)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ RevocationHints = (*RedisCache)(nil)
