package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bakehouse/backend/internal/domain"
)

type RedisShoppingListCache struct {
	client *redis.Client
}

func NewRedisShoppingListCache(addr string, password string, db int) *RedisShoppingListCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisShoppingListCache{client: client}
}

func (c *RedisShoppingListCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisShoppingListCache) Close() error {
	return c.client.Close()
}

func (c *RedisShoppingListCache) Get(ctx context.Context, key string) (*domain.ShoppingListResponse, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.ShoppingListResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisShoppingListCache) Set(ctx context.Context, key string, value *domain.ShoppingListResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisShoppingListCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
