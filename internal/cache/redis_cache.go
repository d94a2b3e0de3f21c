package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kioskpos/backend/internal/domain"
)

type RedisInventoryCache struct {
	client redis.UniversalClient
}

func NewRedisInventoryCache(addr string, password string, db int) *RedisInventoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisInventoryCache{client: client}
}

// NewRedisInventoryCacheWithClient wraps an existing client.
func NewRedisInventoryCacheWithClient(client redis.UniversalClient) *RedisInventoryCache {
	return &RedisInventoryCache{client: client}
}

func (c *RedisInventoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInventoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisInventoryCache) Get(ctx context.Context, kioskID string) ([]domain.InventoryItemView, bool, error) {
	val, err := c.client.Get(ctx, inventoryKey(kioskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.InventoryItemView
	if err := json.Unmarshal(val, &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisInventoryCache) Set(ctx context.Context, kioskID string, items []domain.InventoryItemView, ttl time.Duration) error {
	if items == nil {
		items = []domain.InventoryItemView{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, inventoryKey(kioskID), payload, ttl).Err()
}

func (c *RedisInventoryCache) Invalidate(ctx context.Context, kioskID string) error {
	return c.client.Del(ctx, inventoryKey(kioskID)).Err()
}
