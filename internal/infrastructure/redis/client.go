package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options locates a Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return verify(ctx, client)
}

// NewClientFromURL creates a Redis client from a redis:// URL.
func NewClientFromURL(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return verify(ctx, redis.NewClient(opts))
}

func verify(ctx context.Context, client *redis.Client) (*redis.Client, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", client.Options().Addr, err)
	}

	return client, nil
}
