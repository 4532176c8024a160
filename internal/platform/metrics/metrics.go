package metrics

import (
	"sync"
	"time"
)

// Collector 进程内指标收集器。显式注入到各组件，服务启动时创建，
// 可随时 Snapshot / Reset（不做跨进程上报，外部系统拉取快照）。
type Collector struct {
	mu       sync.RWMutex
	counters map[string]int64
	timers   map[string]*timer
}

type timer struct {
	Count   int64
	TotalMs int64
	MaxMs   int64
}

// TimerStat 耗时指标快照
type TimerStat struct {
	Count   int64   `json:"count"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   int64   `json:"max_ms"`
	TotalMs int64   `json:"total_ms"`
}

// Snapshot 指标快照
type Snapshot struct {
	Counters map[string]int64     `json:"counters"`
	Timers   map[string]TimerStat `json:"timers"`
}

// NewCollector 创建收集器
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]int64),
		timers:   make(map[string]*timer),
	}
}

// Inc 计数器 +n
func (c *Collector) Inc(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name] += n
	c.mu.Unlock()
}

// Observe 记录一次耗时
func (c *Collector) Observe(name string, d time.Duration) {
	if c == nil {
		return
	}
	ms := d.Milliseconds()
	c.mu.Lock()
	t, ok := c.timers[name]
	if !ok {
		t = &timer{}
		c.timers[name] = t
	}
	t.Count++
	t.TotalMs += ms
	if ms > t.MaxMs {
		t.MaxMs = ms
	}
	c.mu.Unlock()
}

// Counter 读取单个计数器
func (c *Collector) Counter(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot 导出当前全部指标
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: make(map[string]int64),
		Timers:   make(map[string]TimerStat),
	}
	if c == nil {
		return snap
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, t := range c.timers {
		st := TimerStat{Count: t.Count, MaxMs: t.MaxMs, TotalMs: t.TotalMs}
		if t.Count > 0 {
			st.AvgMs = float64(t.TotalMs) / float64(t.Count)
		}
		snap.Timers[k] = st
	}
	return snap
}

// Reset 清空全部指标
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters = make(map[string]int64)
	c.timers = make(map[string]*timer)
	c.mu.Unlock()
}
