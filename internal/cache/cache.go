package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeySettings is the cache key for the shop settings snapshot.
const KeySettings = "pos:settings"

// JSON wraps Redis helpers for JSON payloads. A nil receiver or nil client
// turns every call into a miss so callers can run without Redis.
type JSON struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a cache helper.
func New(client *redis.Client, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl}
}

// Enabled reports whether values are actually stored.
func (c *JSON) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set serialises v as JSON and stores it with the configured TTL.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Delete drops key.
func (c *JSON) Delete(ctx context.Context, key string) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

// Load returns the cached value for key or calls load and caches its result.
// Cache read and write failures are reported through onErr but never fail the
// call; a failing load is returned unchanged and nothing is cached.
func Load[T any](ctx context.Context, c *JSON, key string, load func(context.Context) (T, error), onErr func(error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil && onErr != nil {
		onErr(err)
	}
	if hit {
		return cached, nil
	}
	fresh, err := load(ctx)
	if err != nil {
		return fresh, err
	}
	if err := c.Set(ctx, key, fresh); err != nil && onErr != nil {
		onErr(err)
	}
	return fresh, nil
}
