package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/powermon/internal/core/domain"
)

const latestOutcomeKey = "powermon:latest_outcome"

// Client mirrors the latest poll outcome into Redis so other consumers can
// read it without going through the service API.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration. An empty URL disables the
// cache.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetLatest stores the outcome under the well-known key with the configured
// TTL, so a stopped service leaves no stale reading behind forever.
func (c *Client) SetLatest(ctx context.Context, o *domain.PollOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := c.rdb.Set(ctx, latestOutcomeKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// GetLatest reads back the cached outcome. Returns (nil, nil) when the key
// is absent or expired.
func (c *Client) GetLatest(ctx context.Context) (*domain.PollOutcome, error) {
	val, err := c.rdb.Get(ctx, latestOutcomeKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	var o domain.PollOutcome
	if err := json.Unmarshal(val, &o); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return &o, nil
}
