package source

import (
	"context"
	"time"

	applog "runhub/internal/platform/log"
)

const healthCheckTimeout = 5 * time.Second

// StartHealthChecks 启动独立的周期健康检查循环。
// 只更新观测用的 Health 快照，不直接驱动熔断器。
func (r *Registry) StartHealthChecks() {
	interval := time.Duration(r.cfg.HealthCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	r.healthWG.Add(1)
	go func() {
		defer r.healthWG.Done()
		// 启动后立刻检查一轮，再进入周期
		r.checkAll()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.checkAll()
			case <-r.stopHealth:
				return
			}
		}
	}()
	applog.Info("[Registry] Health check loop started", "interval", interval)
}

func (r *Registry) checkAll() {
	for _, en := range r.snapshotEntries() {
		if !en.cfg.Enabled {
			continue
		}
		r.checkOne(en)
	}
}

func (r *Registry) checkOne(en *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := en.adapter.HealthCheck(ctx)
	elapsed := time.Since(start)

	if err != nil {
		en.setHealth(false, elapsed, err.Error())
		r.metrics.Inc("health_check_failures:"+en.cfg.Name, 1)
		applog.Warn("[Registry] Health check failed", "adapter", en.cfg.Name, "error", err)
		return
	}
	en.setHealth(true, elapsed, "")
}

// Health 全部 adapter 的健康快照（按优先级排序）
func (r *Registry) Health() []Health {
	entries := r.snapshotEntries()
	out := make([]Health, 0, len(entries))
	for _, en := range entries {
		en.mu.RLock()
		h := en.health
		en.mu.RUnlock()
		// 熔断状态取实时值
		h.CircuitState = en.breaker.State()
		out = append(out, h)
	}
	return out
}
