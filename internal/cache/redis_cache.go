package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokoledger/backend/internal/domain"
)

// RedisCatalogCache versions keys per warehouse; Invalidate bumps the version
// so stale listings age out on their own TTL.
type RedisCatalogCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client, prefix: "tokoledger:catalog"}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) Get(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, bool, error) {
	key, err := c.listingKey(ctx, warehouseID, filter)
	if err != nil {
		return nil, false, err
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.CatalogItem
	if err := json.Unmarshal(val, &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, warehouseID string, filter domain.CatalogFilter, items []domain.CatalogItem, ttl time.Duration) error {
	key, err := c.listingKey(ctx, warehouseID, filter)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, warehouseID string) error {
	return c.client.Incr(ctx, c.versionKey(warehouseID)).Err()
}

func (c *RedisCatalogCache) versionKey(warehouseID string) string {
	return c.prefix + ":ver:" + warehouseID
}

func (c *RedisCatalogCache) listingKey(ctx context.Context, warehouseID string, filter domain.CatalogFilter) (string, error) {
	version, err := c.client.Get(ctx, c.versionKey(warehouseID)).Result()
	if errors.Is(err, redis.Nil) {
		version = "0"
	} else if err != nil {
		return "", err
	}
	return c.prefix + ":" + warehouseID + ":" + version + ":" + filterKey(filter), nil
}
