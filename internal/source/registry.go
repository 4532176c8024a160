package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
)

// Config Registry 配置
type Config struct {
	MaxConcurrent              int `json:"max_concurrent"`                // 并发在途 adapter 调用上限
	MinimumWorkingAdapters     int `json:"minimum_working_adapters"`      // 低于此响应数视为降级
	DefaultTimeoutMs           int `json:"default_timeout_ms"`            // 单 adapter 默认超时
	DefaultFailureThreshold    int `json:"default_failure_threshold"`
	DefaultCooldownSeconds     int `json:"default_cooldown_seconds"`
	HealthCheckIntervalSeconds int `json:"health_check_interval_seconds"`
}

// DefaultConfig 默认 Registry 配置
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:              8,
		MinimumWorkingAdapters:     1,
		DefaultTimeoutMs:           1500,
		DefaultFailureThreshold:    5,
		DefaultCooldownSeconds:     30,
		HealthCheckIntervalSeconds: 60,
	}
}

type entry struct {
	adapter Adapter
	cfg     AdapterConfig
	breaker *Breaker

	mu     sync.RWMutex
	health Health
}

// Registry 持有全部已配置的 adapter、各自的熔断器与扇出逻辑。
// 熔断状态在进程生命周期内持续更新；健康检查循环独立于查询流量。
type Registry struct {
	cfg     *Config
	metrics *metrics.Collector

	mu      sync.RWMutex
	entries []*entry // 按 priority 降序

	sem *semaphore.Weighted

	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// NewRegistry 创建 Registry
func NewRegistry(cfg *Config, collector *metrics.Collector) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 8
	}
	return &Registry{
		cfg:        cfg,
		metrics:    collector,
		sem:        semaphore.NewWeighted(int64(maxConc)),
		stopHealth: make(chan struct{}),
	}
}

// Register 注册一个 adapter，名称重复时报错
func (r *Registry) Register(a Adapter, cfg AdapterConfig) error {
	if cfg.Name == "" {
		cfg.Name = a.Name()
	}
	if cfg.Type == "" {
		cfg.Type = string(a.Type())
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = r.cfg.DefaultTimeoutMs
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = r.cfg.DefaultFailureThreshold
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = r.cfg.DefaultCooldownSeconds
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, en := range r.entries {
		if en.cfg.Name == cfg.Name {
			return fmt.Errorf("adapter %q already registered", cfg.Name)
		}
	}

	r.entries = append(r.entries, &entry{
		adapter: a,
		cfg:     cfg,
		breaker: NewBreaker(cfg.FailureThreshold, time.Duration(cfg.CooldownSeconds)*time.Second),
		health: Health{
			Name:         cfg.Name,
			Type:         cfg.Type,
			CircuitState: CircuitClosed,
		},
	})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].cfg.Priority != r.entries[j].cfg.Priority {
			return r.entries[i].cfg.Priority > r.entries[j].cfg.Priority
		}
		return r.entries[i].cfg.Name < r.entries[j].cfg.Name
	})
	return nil
}

// Initialize 初始化全部启用的 adapter。单个失败仅告警（熔断器会挡住后续调用），
// 一个可用 adapter 都没有时才报错。
func (r *Registry) Initialize(ctx context.Context) error {
	enabled := 0
	for _, en := range r.snapshotEntries() {
		if !en.cfg.Enabled {
			continue
		}
		enabled++
		if err := en.adapter.Initialize(ctx); err != nil {
			applog.Warn("[Registry] Adapter initialize failed", "adapter", en.cfg.Name, "error", err)
			en.setHealth(false, 0, err.Error())
			en.breaker.RecordFailure()
			continue
		}
		applog.Info("[Registry] Adapter ready", "adapter", en.cfg.Name, "type", en.cfg.Type, "priority", en.cfg.Priority)
	}
	if enabled == 0 {
		return fmt.Errorf("no adapters enabled")
	}
	return nil
}

type fanoutResult struct {
	name    string
	docs    []knowledge.Document
	err     error
	elapsed time.Duration
}

// SearchAll 并发扇出到所有符合策略且熔断未打开的 adapter。
// 整体截止时间由 ctx 控制；截止后在途调用被放弃（结果丢弃，
// 熔断器仍会记录其最终结果）。零源响应返回空集，绝不报错。
func (r *Registry) SearchAll(ctx context.Context, query string, strat *knowledge.Strategy) knowledge.SearchOutcome {
	eligible := r.eligibleEntries(strat)
	if len(eligible) == 0 {
		r.metrics.Inc("registry_no_eligible_sources", 1)
		return knowledge.SearchOutcome{Degraded: true}
	}

	limit := 10
	if strat != nil && strat.PerSourceLimit > 0 {
		limit = strat.PerSourceLimit
	}

	// 带缓冲，保证被放弃的在途调用完成时发送不阻塞
	resCh := make(chan fanoutResult, len(eligible))
	for _, en := range eligible {
		go r.searchOne(ctx, en, query, limit, resCh)
	}

	var docs []knowledge.Document
	responded, received := 0, 0
collect:
	for received < len(eligible) {
		select {
		case res := <-resCh:
			received++
			if res.err != nil {
				applog.Debug("[Registry] Source failed", "adapter", res.name, "error", res.err)
				continue
			}
			responded++
			docs = append(docs, res.docs...)
		case <-ctx.Done():
			// 截止：接受已到达的部分结果
			break collect
		}
	}

	outcome := knowledge.SearchOutcome{
		Documents: docs,
		Attempted: len(eligible),
		Responded: responded,
		Degraded:  responded < r.cfg.MinimumWorkingAdapters,
	}
	if responded == 0 {
		r.metrics.Inc("registry_all_sources_failed", 1)
		applog.Error("[Registry] No sources responded before deadline", "attempted", len(eligible), "query", query)
	} else if outcome.Degraded {
		r.metrics.Inc("registry_degraded_responses", 1)
	}
	return outcome
}

// searchOne 单 adapter 调用：全局并发闸 + 单源超时 + 熔断记录
func (r *Registry) searchOne(ctx context.Context, en *entry, query string, limit int, resCh chan<- fanoutResult) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		// 调用未发出：归还可能占用的 half_open 探测名额
		en.breaker.CancelProbe()
		resCh <- fanoutResult{name: en.cfg.Name, err: err}
		return
	}
	defer r.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, en.cfg.Timeout())
	defer cancel()

	start := time.Now()
	docs, err := en.adapter.Search(callCtx, query, SearchOptions{Limit: limit})
	elapsed := time.Since(start)

	if err != nil {
		en.breaker.RecordFailure()
		r.metrics.Inc("adapter_failures:"+en.cfg.Name, 1)
		resCh <- fanoutResult{name: en.cfg.Name, err: err, elapsed: elapsed}
		return
	}

	en.breaker.RecordSuccess()
	r.metrics.Inc("adapter_calls:"+en.cfg.Name, 1)
	r.metrics.Observe("adapter_search:"+en.cfg.Name, elapsed)
	for i := range docs {
		if docs[i].Source == "" {
			docs[i].Source = en.cfg.Name
		}
		if docs[i].RetrievalTimeMs == 0 {
			docs[i].RetrievalTimeMs = elapsed.Milliseconds()
		}
	}
	resCh <- fanoutResult{name: en.cfg.Name, docs: docs, elapsed: elapsed}
}

// GetDocument 按源名称读取单篇文档
func (r *Registry) GetDocument(ctx context.Context, sourceName, id string) (*knowledge.Document, error) {
	for _, en := range r.snapshotEntries() {
		if en.cfg.Name == sourceName {
			return en.adapter.GetDocument(ctx, id)
		}
	}
	return nil, fmt.Errorf("unknown source %q: %w", sourceName, ErrNotFound)
}

// eligibleEntries 过滤出启用、类型匹配且熔断放行的 adapter
func (r *Registry) eligibleEntries(strat *knowledge.Strategy) []*entry {
	var types map[knowledge.SourceType]bool
	if strat != nil && len(strat.SourceTypes) > 0 {
		types = make(map[knowledge.SourceType]bool, len(strat.SourceTypes))
		for _, t := range strat.SourceTypes {
			types[t] = true
		}
	}

	var out []*entry
	for _, en := range r.snapshotEntries() {
		if !en.cfg.Enabled {
			continue
		}
		if types != nil && !types[knowledge.SourceType(en.cfg.Type)] {
			continue
		}
		if !en.breaker.Allow() {
			r.metrics.Inc("breaker_skipped:"+en.cfg.Name, 1)
			applog.Debug("[Registry] Circuit open, skipping source", "adapter", en.cfg.Name)
			continue
		}
		out = append(out, en)
	}
	return out
}

// Priorities adapter 名称 → 配置优先级（评分 tie-break 用）
func (r *Registry) Priorities() map[string]int {
	out := make(map[string]int)
	for _, en := range r.snapshotEntries() {
		out[en.cfg.Name] = en.cfg.Priority
	}
	return out
}

// Close 停止健康检查循环并释放全部 adapter 资源
func (r *Registry) Close() {
	close(r.stopHealth)
	r.healthWG.Wait()
	for _, en := range r.snapshotEntries() {
		if err := en.adapter.Cleanup(); err != nil {
			applog.Warn("[Registry] Adapter cleanup failed", "adapter", en.cfg.Name, "error", err)
		}
	}
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (en *entry) setHealth(healthy bool, responseTime time.Duration, errMsg string) {
	en.mu.Lock()
	en.health.Healthy = healthy
	en.health.ResponseTimeMs = responseTime.Milliseconds()
	en.health.ErrorMessage = errMsg
	en.health.CircuitState = en.breaker.State()
	en.health.LastCheckedAt = time.Now()
	en.mu.Unlock()
}
