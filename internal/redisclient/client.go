package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkEventSeen records a provider event id and reports whether this is the
// first delivery. Fast path for webhook dedup; the processed_events table
// is the durable backstop.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("event:%s", eventID), "1", ttl).Result()
}

// CacheCaptureResult stores the recorded capture outcome for an intent so
// duplicate capture calls can be answered without contacting the provider.
func (c *Client) CacheCaptureResult(ctx context.Context, intentID string, result interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal capture result: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("capture:%s", intentID), payload, ttl).Err()
}

// GetCaptureResult loads a previously recorded capture outcome. Returns
// false when nothing is cached.
func (c *Client) GetCaptureResult(ctx context.Context, intentID string, out interface{}) (bool, error) {
	payload, err := c.rdb.Get(ctx, fmt.Sprintf("capture:%s", intentID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(payload, out)
}

// CacheProduct stores a normalized product under its backend-scoped key
func (c *Client) CacheProduct(ctx context.Context, backend, productID string, product interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("product:%s:%s", backend, productID), payload, ttl).Err()
}

// GetProduct loads a cached product. Returns false on cache miss.
func (c *Client) GetProduct(ctx context.Context, backend, productID string, out interface{}) (bool, error) {
	payload, err := c.rdb.Get(ctx, fmt.Sprintf("product:%s:%s", backend, productID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(payload, out)
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
