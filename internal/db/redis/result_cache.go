package redisdb

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	applog "runhub/internal/platform/log"
)

// ResultCache 检索结果的 Redis 分布式缓存层。
// 值为序列化后的结果集，TTL 由混合缓存按内容类型传入。
type ResultCache struct {
	redis *redis.Client
}

// NewResultCache 创建分布式缓存层
func NewResultCache(rdb *redis.Client) *ResultCache {
	return &ResultCache{redis: rdb}
}

// Get 读取缓存值，miss 返回 (nil, false, nil)
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	applog.Debug("[Cache/Redis] Hit", "key", key)
	return data, true, nil
}

// Set 写入缓存值
func (c *ResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.redis.Set(ctx, key, value, ttl).Err()
}

// Del 删除缓存值
func (c *ResultCache) Del(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key).Err()
}
