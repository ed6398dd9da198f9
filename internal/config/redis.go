package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses the configured URL and verifies connectivity.
func (c *RedisConfig) NewRedisClient(ctx context.Context) (redis.UniversalClient, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("redis url is required for the redis lock backend")
	}
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
