package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
)

// RemoteStore 分布式缓存层（可选）。第二个返回值表示是否命中。
// 实现方保证 get/set 的原子性；不可达时由 Hybrid 透明降级。
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// FlightLock 跨进程计算抑制锁（可选，best-effort）
type FlightLock interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

// TypeStats 单内容类型统计
type TypeStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats 缓存统计
type Stats struct {
	HitRate         float64              `json:"hit_rate"`
	TotalOperations int64                `json:"total_operations"`
	MemoryEntries   int                  `json:"memory_entries"`
	RemoteEnabled   bool                 `json:"remote_enabled"`
	ByContentType   map[string]TypeStats `json:"by_content_type"`
}

// Hybrid 两级缓存：先查进程内 LRU，未命中再查分布式层并回填本地。
// 同 key 并发未命中通过 singleflight 合并为一次上游计算。
// 分布式层不可达时透明降级为仅内存缓存，绝不让请求失败。
type Hybrid struct {
	cfg     *Config
	local   *memoryTier
	remote  RemoteStore // 可为 nil
	lock    FlightLock  // 可为 nil
	group   singleflight.Group
	metrics *metrics.Collector

	mu      sync.Mutex
	byType  map[ContentType]*TypeStats
	hits    int64
	misses  int64
}

// NewHybrid 创建混合缓存
func NewHybrid(cfg *Config, collector *metrics.Collector) *Hybrid {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Hybrid{
		cfg:     cfg,
		local:   newMemoryTier(cfg.MaxEntries),
		metrics: collector,
		byType:  make(map[ContentType]*TypeStats),
	}
}

// SetRemote 挂接分布式层
func (h *Hybrid) SetRemote(r RemoteStore) {
	h.remote = r
}

// SetFlightLock 挂接跨进程计算抑制锁
func (h *Hybrid) SetFlightLock(l FlightLock) {
	h.lock = l
}

type flightResult struct {
	value  []byte
	cached bool
}

// GetOrCompute 读取或计算。返回值第二项表示是否由缓存提供。
// 计算不随单个调用方取消而中止：其他并发等待者仍需要这个结果。
func (h *Hybrid) GetOrCompute(ctx context.Context, key string, contentType string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	ct := ContentType(contentType)

	if val, ok := h.local.get(key); ok {
		h.record(ct, true)
		return val, true, nil
	}

	ch := h.group.DoChan(key, func() (interface{}, error) {
		return h.fetchOrCompute(context.WithoutCancel(ctx), key, ct, compute)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			h.record(ct, false)
			return nil, false, res.Err
		}
		fr := res.Val.(flightResult)
		h.record(ct, fr.cached)
		return fr.value, fr.cached, nil
	case <-ctx.Done():
		// 调用方超时/取消：计算继续留给其他等待者。按未命中计入统计。
		h.record(ct, false)
		return nil, false, ctx.Err()
	}
}

// fetchOrCompute singleflight 内部：远端层 → 上游计算 → 双层回写
func (h *Hybrid) fetchOrCompute(ctx context.Context, key string, ct ContentType, compute func(context.Context) ([]byte, error)) (flightResult, error) {
	// 可能有并发 flight 刚写入本地
	if val, ok := h.local.get(key); ok {
		return flightResult{value: val, cached: true}, nil
	}

	ttl := h.cfg.TTLFor(ct)

	if val, ok := h.remoteGet(ctx, key); ok {
		h.local.set(key, val, ttl)
		return flightResult{value: val, cached: true}, nil
	}

	// 跨进程抑制：没拿到锁就短暂轮询远端，等别的进程算完
	if h.lock != nil && h.remote != nil {
		if acquired, _ := h.lock.Acquire(ctx, key); !acquired {
			for i := 0; i < 4; i++ {
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return flightResult{}, ctx.Err()
				}
				if val, ok := h.remoteGet(ctx, key); ok {
					h.local.set(key, val, ttl)
					return flightResult{value: val, cached: true}, nil
				}
			}
			// 等不到就自己算
		} else {
			defer h.lock.Release(ctx, key)
		}
	}

	val, err := compute(ctx)
	if err != nil {
		return flightResult{}, err
	}

	h.local.set(key, val, ttl)
	if h.remote != nil {
		// 异步回写远端，不阻塞请求路径
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.remote.Set(writeCtx, key, val, ttl); err != nil {
				h.metrics.Inc("cache_remote_errors", 1)
				applog.Warn("[Cache] Remote tier write failed", "key", key, "error", err)
			}
		}()
	}

	return flightResult{value: val, cached: false}, nil
}

// remoteGet 远端读取，出错即降级为未命中
func (h *Hybrid) remoteGet(ctx context.Context, key string) ([]byte, bool) {
	if h.remote == nil {
		return nil, false
	}
	val, ok, err := h.remote.Get(ctx, key)
	if err != nil {
		h.metrics.Inc("cache_remote_errors", 1)
		applog.Warn("[Cache] Remote tier unreachable, memory-only mode for this request", "error", err)
		return nil, false
	}
	return val, ok
}

// Invalidate 使指定 key 失效（双层）
func (h *Hybrid) Invalidate(ctx context.Context, key string) {
	h.local.remove(key)
	if h.remote != nil {
		if err := h.remote.Del(ctx, key); err != nil {
			applog.Warn("[Cache] Remote invalidate failed", "key", key, "error", err)
		}
	}
}

// Stats 统计快照
func (h *Hybrid) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := h.hits + h.misses
	s := Stats{
		TotalOperations: total,
		MemoryEntries:   h.local.len(),
		RemoteEnabled:   h.remote != nil,
		ByContentType:   make(map[string]TypeStats, len(h.byType)),
	}
	if total > 0 {
		s.HitRate = float64(h.hits) / float64(total)
	}
	for ct, ts := range h.byType {
		cp := *ts
		if n := cp.Hits + cp.Misses; n > 0 {
			cp.HitRate = float64(cp.Hits) / float64(n)
		}
		s.ByContentType[string(ct)] = cp
	}
	return s
}

func (h *Hybrid) record(ct ContentType, hit bool) {
	h.mu.Lock()
	ts, ok := h.byType[ct]
	if !ok {
		ts = &TypeStats{}
		h.byType[ct] = ts
	}
	if hit {
		h.hits++
		ts.Hits++
	} else {
		h.misses++
		ts.Misses++
	}
	h.mu.Unlock()

	if hit {
		h.metrics.Inc("cache_hits", 1)
	} else {
		h.metrics.Inc("cache_misses", 1)
	}
}
