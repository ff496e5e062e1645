package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces blacklisted refresh-token hashes.
const KeyPrefix = "bl:rt:"

// Redis is a Blacklist backed by Redis keys with native expiry.
type Redis struct {
	client redis.UniversalClient
}

var _ Blacklist = (*Redis)(nil)

// NewRedis returns a Blacklist using client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// OpenRedis parses a redis:// URL and returns a connected client.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Add implements Blacklist.
func (r *Redis) Add(ctx context.Context, hash string, ttl time.Duration) error {
	return r.client.Set(ctx, KeyPrefix+hash, 1, ttl).Err()
}

// Contains implements Blacklist.
func (r *Redis) Contains(ctx context.Context, hash string) (bool, error) {
	n, err := r.client.Exists(ctx, KeyPrefix+hash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
