package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IdentityCache implements ports.IdentityCache using plain Redis strings.
// Keys arrive fully qualified ("wallet:<id>"); no prefix is added here.
type IdentityCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewIdentityCache creates a Redis-backed identity cache. A zero ttl keeps entries
// until evicted.
func NewIdentityCache(client *goredis.Client, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: client, ttl: ttl}
}

// Get returns ("", false, nil) when the key does not exist.
func (c *IdentityCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis identity get: %w", err)
	}
	return val, true, nil
}

func (c *IdentityCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis identity set: %w", err)
	}
	return nil
}
