package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"runhub/internal/cache"
	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
)

// Processor 查询编排器：意图分类 → 查询增强 → 策略选择 →
// 多源扇出 → 评分排序 → 缓存。整条链路受时间预算约束，
// 截止后接受已到达的部分结果，绝不因单源故障失败。
type Processor struct {
	classifier *IntentClassifier
	enhancer   *ContextEnhancer
	sources    SourceSearcher
	engine     *Engine
	cache      ResultCacheStore // 可选
	metrics    *metrics.Collector
}

// NewProcessor 创建查询编排器
func NewProcessor(sources SourceSearcher, engine *Engine, collector *metrics.Collector) *Processor {
	return &Processor{
		classifier: NewIntentClassifier(),
		enhancer:   NewContextEnhancer(),
		sources:    sources,
		engine:     engine,
		metrics:    collector,
	}
}

// SetCache 设置结果缓存
func (p *Processor) SetCache(c ResultCacheStore) {
	p.cache = c
}

// ValidateQuery 同步校验，任何 adapter/缓存工作之前执行
func ValidateQuery(raw string, qctx *QueryContext) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if qctx != nil && !validSeverities[qctx.Severity] {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidQuery, qctx.Severity)
	}
	return nil
}

// Process 构建 ProcessedQuery：分类 + 增强 + 策略。
// 每次请求新建，自身不缓存。
func (p *Processor) Process(raw string, qctx *QueryContext) *ProcessedQuery {
	intent := p.classifier.Classify(raw, qctx)
	enhanced := p.enhancer.Enhance(raw, intent, qctx)
	strat := selectStrategy(intent, qctx)

	applog.Debug("[KB] Query processed",
		"intent", intent.Type,
		"confidence", intent.Confidence,
		"approach", strat.Approach,
		"budget_ms", strat.TimeConstraints.TargetResponseTime.Milliseconds(),
		"expansions", len(enhanced.Expansions),
	)

	return &ProcessedQuery{
		Intent:   intent,
		Enhanced: enhanced,
		Strategy: strat,
		Context:  qctx,
	}
}

// ProcessQuery 完整查询入口：校验 → 缓存命中直接返回 →
// 未命中执行检索并写缓存（singleflight 合并并发未命中）。
func (p *Processor) ProcessQuery(ctx context.Context, raw string, qctx *QueryContext) (*QueryResult, error) {
	start := time.Now()

	if err := ValidateQuery(raw, qctx); err != nil {
		p.metrics.Inc("queries_invalid", 1)
		return nil, err
	}

	pq := p.Process(raw, qctx)
	p.metrics.Inc("queries_total", 1)
	p.metrics.Inc("intent:"+string(pq.Intent.Type), 1)

	var result *QueryResult
	if p.cache != nil {
		key := cache.BuildKey(raw, contextFilters(qctx), string(pq.Intent.Type))
		data, hit, err := p.cache.GetOrCompute(ctx, key, string(contentTypeFor(pq.Intent.Type)), func(computeCtx context.Context) ([]byte, error) {
			return json.Marshal(p.Execute(computeCtx, pq))
		})
		if err != nil {
			return nil, err
		}
		result = &QueryResult{}
		if err := json.Unmarshal(data, result); err != nil {
			return nil, fmt.Errorf("decode cached result: %w", err)
		}
		result.Cached = hit
	} else {
		result = p.Execute(ctx, pq)
	}

	result.RetrievalTimeMs = time.Since(start).Milliseconds()
	if result.Cached {
		p.metrics.Inc("queries_cached", 1)
	}
	if result.Degraded {
		p.metrics.Inc("queries_degraded", 1)
	}
	p.metrics.Observe("query_processing", time.Since(start))

	applog.Info("[KB] Query served",
		"intent", pq.Intent.Type,
		"results", result.TotalResults,
		"cached", result.Cached,
		"degraded", result.Degraded,
		"elapsed_ms", result.RetrievalTimeMs,
	)
	return result, nil
}

// Execute 在策略时间预算内执行多源检索与评分。
// 截止时在途调用被放弃，接受部分结果；部分结果是成功而非错误。
func (p *Processor) Execute(ctx context.Context, pq *ProcessedQuery) *QueryResult {
	budget := pq.Strategy.TimeConstraints.TargetResponseTime
	if budget <= 0 {
		budget = 2 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	outcome := p.sources.SearchAll(execCtx, pq.Enhanced.Query, &pq.Strategy)
	ranked := p.engine.Search(execCtx, &pq.Enhanced, outcome.Documents)
	if ranked == nil {
		ranked = []RankedResult{}
	}

	return &QueryResult{
		Results:      ranked,
		TotalResults: len(ranked),
		Degraded:     outcome.Degraded,
		Intent:       pq.Intent.Type,
	}
}

// selectStrategy 按意图与严重级别决定时间预算、源类型与每源取量。
// 紧急/critical 压缩预算强制走快速降级路径，信息型查询给足预算。
func selectStrategy(intent Intent, qctx *QueryContext) Strategy {
	urgent := qctx != nil && (qctx.Urgent || qctx.Severity == SeverityCritical)

	var budget time.Duration
	var types []SourceType
	switch intent.Type {
	case IntentEscalationInquiry:
		budget = 150 * time.Millisecond
		types = []SourceType{SourceTypeFile, SourceTypeWiki}
	case IntentRunbookSearch:
		budget = 500 * time.Millisecond
		if urgent {
			budget = 200 * time.Millisecond
		}
		types = []SourceType{SourceTypeFile, SourceTypeWiki, SourceTypeGit}
	case IntentProcedureLookup, IntentDecisionTreeLookup:
		budget = 800 * time.Millisecond
		types = []SourceType{SourceTypeFile, SourceTypeWiki, SourceTypeGit}
	case IntentTroubleshooting:
		budget = 1000 * time.Millisecond
		types = nil // 全部源
	default: // knowledge_search
		budget = 2000 * time.Millisecond
		types = nil
	}
	if urgent && budget > 200*time.Millisecond {
		budget = 200 * time.Millisecond
	}

	limit := 10
	if urgent {
		limit = 5
	}

	approach := "thorough"
	switch {
	case budget <= 200*time.Millisecond:
		approach = "fast_degraded"
	case budget <= 800*time.Millisecond:
		approach = "balanced"
	}

	return Strategy{
		Approach:        approach,
		SourceTypes:     types,
		PerSourceLimit:  limit,
		TimeConstraints: TimeConstraints{TargetResponseTime: budget},
	}
}

// contentTypeFor 意图 → 缓存内容类型（决定 TTL 档位）
func contentTypeFor(intent IntentType) cache.ContentType {
	switch intent {
	case IntentRunbookSearch, IntentEscalationInquiry:
		return cache.ContentRunbook
	case IntentProcedureLookup:
		return cache.ContentProcedure
	case IntentDecisionTreeLookup:
		return cache.ContentDecisionTree
	default:
		return cache.ContentKnowledge
	}
}

// contextFilters 上下文中影响结果集的字段进入缓存 key
func contextFilters(qctx *QueryContext) map[string]string {
	if qctx == nil {
		return nil
	}
	filters := make(map[string]string)
	if qctx.Severity != "" {
		filters["severity"] = string(qctx.Severity)
	}
	if qctx.Urgent {
		filters["urgent"] = "true"
	}
	if qctx.AlertType != "" {
		filters["alert_type"] = qctx.AlertType
	}
	if len(qctx.Systems) > 0 {
		systems := append([]string(nil), qctx.Systems...)
		for i := range systems {
			systems[i] = strings.ToLower(systems[i])
		}
		// 排序保证 systems 顺序不同的等价查询落在同一 key
		sort.Strings(systems)
		filters["systems"] = strings.Join(systems, "+")
	}
	return filters
}
