package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_limit.lua
var rateLimitScript string

type Client struct {
	rdb             *redis.Client
	rateLimitScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:             rdb,
		rateLimitScript: redis.NewScript(rateLimitScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AllowSession atomically records a session-creation attempt for
// (shop, customer) in a sliding window and reports whether it fits under the
// limit. The prune, count, and add happen in one Lua script so two
// concurrent attempts cannot both slip under the threshold.
func (c *Client) AllowSession(ctx context.Context, shopID, customerAddress string, limit int, window time.Duration, member string) (bool, error) {
	key := fmt.Sprintf("ratelimit:sessions:%s:%s", shopID, strings.ToLower(customerAddress))
	now := time.Now().UnixMilli()

	result, err := c.rateLimitScript.Run(ctx, c.rdb,
		[]string{key}, now, window.Milliseconds(), limit, member).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return allowed == 1, nil
}

// SetPresence writes an ephemeral presence-style key that Redis expires on
// its own after ttl.
func (c *Client) SetPresence(ctx context.Context, kind, id string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("presence:%s:%s", kind, id), "1", ttl).Err()
}

// ClearPresence removes an ephemeral presence key before its TTL elapses.
func (c *Client) ClearPresence(ctx context.Context, kind, id string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("presence:%s:%s", kind, id)).Err()
}

// CheckPresence reports whether the ephemeral key is still live.
func (c *Client) CheckPresence(ctx context.Context, kind, id string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("presence:%s:%s", kind, id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
