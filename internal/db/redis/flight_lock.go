package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	applog "runhub/internal/platform/log"
)

// FlightLock 基于 Redis SETNX 的跨进程计算抑制锁。
// best-effort：Redis 不可达时放行（宁可重复计算也不阻塞请求）。
type FlightLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFlightLock 创建抑制锁
func NewFlightLock(client *redis.Client) *FlightLock {
	return &FlightLock{
		client: client,
		ttl:    10 * time.Second,
	}
}

// Acquire 尝试获取锁。拿不到说明别的进程正在计算同一 key。
func (l *FlightLock) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := l.client.SetNX(ctx, key+":flight", "locked", l.ttl).Result()
	if err != nil {
		applog.Debug("[FlightLock] Acquire failed, proceeding without lock", "key", key, "error", err)
		return true, err
	}
	return acquired, nil
}

// Release 释放锁
func (l *FlightLock) Release(ctx context.Context, key string) {
	if err := l.client.Del(ctx, key+":flight").Err(); err != nil {
		applog.Debug("[FlightLock] Release failed", "key", key, "error", err)
	}
}
